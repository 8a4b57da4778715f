package storage

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
)

// Backend types accepted by NewBackend.
const (
	TypeLocal = "local"
	TypeGCS   = "gcs"
	TypeS3    = "s3"
)

// NewBackend opens the export destination described by config.
func NewBackend(ctx context.Context, config *Config) (Backend, error) {
	switch config.Type {
	case TypeLocal:
		if config.Local == nil {
			return nil, fmt.Errorf("local configuration is required: %w", errdefs.ErrInvalidArgument)
		}
		return NewLocalStorage(config.Local)
	case TypeGCS:
		if config.GCS == nil {
			return nil, fmt.Errorf("GCS configuration is required: %w", errdefs.ErrInvalidArgument)
		}
		return NewGCSStorage(ctx, config.GCS)
	case TypeS3:
		if config.S3 == nil {
			return nil, fmt.Errorf("S3 configuration is required: %w", errdefs.ErrInvalidArgument)
		}
		return NewS3Storage(ctx, config.S3)
	default:
		return nil, fmt.Errorf("unsupported storage type %q (want %s, %s or %s): %w",
			config.Type, TypeLocal, TypeS3, TypeGCS, errdefs.ErrInvalidArgument)
	}
}

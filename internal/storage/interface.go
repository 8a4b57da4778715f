// Package storage copies finished backups to offsite storage.
package storage

import (
	"context"
	"io"
	"strings"
	"time"
)

// metadataSuffix names the JSON sidecar stored next to every object.
const metadataSuffix = ".json"

// Object is one exported file and its description.
type Object struct {
	Key      string
	Metadata ObjectMetadata
	Reader   io.Reader
}

// ObjectMetadata is stored as a JSON sidecar at Key + ".json".
type ObjectMetadata struct {
	Key        string    `json:"key"`
	Host       string    `json:"host"`
	Backup     string    `json:"backup"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	ExportedAt time.Time `json:"exported_at"`
	Encrypted  bool      `json:"encrypted,omitempty"`
	Version    string    `json:"version,omitempty"`
}

// Backend is an offsite object store.
type Backend interface {
	Store(ctx context.Context, obj *Object) error
	// Retrieve opens an object's data. The caller closes the reader.
	Retrieve(ctx context.Context, key string) (io.ReadCloser, *ObjectMetadata, error)
	// List returns the metadata of objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectMetadata, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ObjectKey builds the key for a file of a host's backup.
func ObjectKey(host, backup, file string) string {
	return strings.Join([]string{host, backup, file}, "/")
}

type Config struct {
	Type  string
	Local *LocalConfig
	GCS   *GCSConfig
	S3    *S3Config
}

type LocalConfig struct {
	BasePath string
}

type GCSConfig struct {
	Bucket      string
	ProjectID   string
	Credentials string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

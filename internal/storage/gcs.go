package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/containerd/errdefs"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSStorage struct {
	client *storage.Client
	bucket string
}

func NewGCSStorage(ctx context.Context, config *GCSConfig) (*GCSStorage, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required for GCS storage")
	}

	var opts []option.ClientOption
	if config.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(config.Credentials))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: config.Bucket,
	}, nil
}

func (g *GCSStorage) Store(ctx context.Context, obj *Object) error {
	bucket := g.client.Bucket(g.bucket)

	w := bucket.Object(obj.Key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, obj.Reader); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close writer: %v\n", closeErr)
		}
		return fmt.Errorf("failed to write object data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	metaWriter := bucket.Object(obj.Key + metadataSuffix).NewWriter(ctx)
	metaWriter.ContentType = "application/json"
	if err := json.NewEncoder(metaWriter).Encode(obj.Metadata); err != nil {
		if closeErr := metaWriter.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close metadata writer: %v\n", closeErr)
		}
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := metaWriter.Close(); err != nil {
		return fmt.Errorf("failed to close metadata writer: %w", err)
	}

	return nil
}

func (g *GCSStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, *ObjectMetadata, error) {
	bucket := g.client.Bucket(g.bucket)

	metadata, err := g.readMetadata(ctx, key+metadataSuffix)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, fmt.Errorf("object %s: %w", key, errdefs.ErrNotFound)
		}
		return nil, nil, err
	}

	dataReader, err := bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object data: %w", err)
	}

	return dataReader, metadata, nil
}

func (g *GCSStorage) readMetadata(ctx context.Context, name string) (*ObjectMetadata, error) {
	reader, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			fmt.Printf("Warning: failed to close metadata reader: %v\n", err)
		}
	}()

	var metadata ObjectMetadata
	if err := json.NewDecoder(reader).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &metadata, nil
}

func (g *GCSStorage) List(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	var objects []ObjectMetadata
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		if !strings.HasSuffix(attrs.Name, metadataSuffix) {
			continue
		}
		metadata, err := g.readMetadata(ctx, attrs.Name)
		if err != nil {
			continue
		}
		objects = append(objects, *metadata)
	}

	return objects, nil
}

func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	bucket := g.client.Bucket(g.bucket)

	if err := bucket.Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object data: %w", err)
	}

	if err := bucket.Object(key + metadataSuffix).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}

	return nil
}

func (g *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(key + metadataSuffix).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}

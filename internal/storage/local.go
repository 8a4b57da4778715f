package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(config *LocalConfig) (*LocalStorage, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path is required for local storage")
	}

	if err := os.MkdirAll(config.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		basePath: config.BasePath,
	}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q: %w", key, errdefs.ErrInvalidArgument)
	}
	return filepath.Join(l.basePath, clean), nil
}

func (l *LocalStorage) Store(ctx context.Context, obj *Object) error {
	dataPath, err := l.path(obj.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0750); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	dataFile, err := os.Create(dataPath) // #nosec G304 - key validated against base path
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	defer func() {
		if err := dataFile.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
			fmt.Printf("Warning: failed to close data file: %v\n", err)
		}
	}()

	if _, err := io.Copy(dataFile, obj.Reader); err != nil {
		if removeErr := os.Remove(dataPath); removeErr != nil {
			fmt.Printf("Warning: failed to remove object file: %v\n", removeErr)
		}
		return fmt.Errorf("failed to write object data: %w", err)
	}
	if err := dataFile.Close(); err != nil {
		return fmt.Errorf("failed to flush object data: %w", err)
	}

	metadata, err := json.MarshalIndent(obj.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(dataPath+metadataSuffix, metadata, 0640); err != nil {
		if removeErr := os.Remove(dataPath); removeErr != nil {
			fmt.Printf("Warning: failed to remove object file: %v\n", removeErr)
		}
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

func (l *LocalStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, *ObjectMetadata, error) {
	dataPath, err := l.path(key)
	if err != nil {
		return nil, nil, err
	}

	metadata, err := readMetadataFile(dataPath + metadataSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("object %s: %w", key, errdefs.ErrNotFound)
		}
		return nil, nil, err
	}

	dataFile, err := os.Open(dataPath) // #nosec G304 - key validated against base path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open object file: %w", err)
	}

	return dataFile, metadata, nil
}

func (l *LocalStorage) List(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	var objects []ObjectMetadata
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metadataSuffix) {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, strings.TrimSuffix(p, metadataSuffix))
		if err != nil {
			return nil
		}
		if !strings.HasPrefix(filepath.ToSlash(rel), prefix) {
			return nil
		}
		metadata, err := readMetadataFile(p)
		if err != nil {
			return nil
		}
		objects = append(objects, *metadata)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	dataPath, err := l.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove object file: %w", err)
	}

	if err := os.Remove(dataPath + metadataSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata file: %w", err)
	}

	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	dataPath, err := l.path(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(dataPath + metadataSuffix); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

func readMetadataFile(p string) (*ObjectMetadata, error) {
	data, err := os.ReadFile(p) // #nosec G304 - path built from validated key
	if err != nil {
		return nil, err
	}
	var metadata ObjectMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &metadata, nil
}

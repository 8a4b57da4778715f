package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	backend, err := NewBackend(context.Background(), &Config{Type: "local", Local: &LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	return backend.(*LocalStorage)
}

func TestLocalStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)

	key := ObjectKey("nas", "20240309_140507", "db_data.tar.gz")
	assert.Equal(t, "nas/20240309_140507/db_data.tar.gz", key)

	meta := ObjectMetadata{
		Key:        key,
		Host:       "nas",
		Backup:     "20240309_140507",
		File:       "db_data.tar.gz",
		Size:       7,
		ExportedAt: time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC),
	}
	require.NoError(t, l.Store(ctx, &Object{Key: key, Metadata: meta, Reader: strings.NewReader("archive")}))

	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, got, err := l.Retrieve(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "archive", string(data))
	assert.Equal(t, meta.Key, got.Key)
	assert.Equal(t, meta.Size, got.Size)
	assert.True(t, meta.ExportedAt.Equal(got.ExportedAt))
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)

	for _, key := range []string{"nas/b1/x.tar.gz", "nas/b2/y.tar.gz", "pi/b1/z.tar.gz"} {
		require.NoError(t, l.Store(ctx, &Object{Key: key, Metadata: ObjectMetadata{Key: key}, Reader: strings.NewReader("d")}))
	}

	all, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	nas, err := l.List(ctx, "nas/")
	require.NoError(t, err)
	require.Len(t, nas, 2)
	assert.Equal(t, "nas/b1/x.tar.gz", nas[0].Key)
	assert.Equal(t, "nas/b2/y.tar.gz", nas[1].Key)
}

func TestLocalDelete(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	key := "nas/b1/x.tar.gz"
	require.NoError(t, l.Store(ctx, &Object{Key: key, Reader: strings.NewReader("d")}))

	require.NoError(t, l.Delete(ctx, key))
	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Delete(ctx, key), "deleting twice is fine")

	_, _, err = l.Retrieve(ctx, key)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)

	for _, key := range []string{"../evil", "/etc/passwd", "", "a/../../b"} {
		err := l.Store(ctx, &Object{Key: key, Reader: strings.NewReader("x")})
		assert.True(t, errdefs.IsInvalidArgument(err), key)
	}
}

func TestNewBackendValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewBackend(ctx, &Config{Type: "ftp"})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = NewBackend(ctx, &Config{Type: TypeLocal})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = NewBackend(ctx, &Config{Type: "s3", S3: &S3Config{}})
	assert.Error(t, err)

	_, err = NewBackend(ctx, &Config{Type: "gcs", GCS: &GCSConfig{}})
	assert.Error(t, err)
}

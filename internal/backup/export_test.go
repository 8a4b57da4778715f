package backup

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ypeckstadt/dhom/internal/crypto"
	"github.com/ypeckstadt/dhom/internal/executor/executortest"
	"github.com/ypeckstadt/dhom/internal/models"
	"github.com/ypeckstadt/dhom/internal/storage"
)

func exportFixture(t *testing.T) (*Client, *storage.LocalStorage) {
	t.Helper()
	fake := executortest.New().
		AddFile(backupDir+"/db.tar.gz", []byte("database archive")).
		AddFile(backupDir+"/"+models.ManifestFile, []byte("Host: nas\n")).
		AddFile(backupDir+"/notes.txt", []byte("ignored"))
	c, _ := newTestClient(t, fake, nas)

	backend, err := storage.NewLocalStorage(&storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	return c, backend
}

func readObject(t *testing.T, backend storage.Backend, key string) ([]byte, *storage.ObjectMetadata) {
	t.Helper()
	rc, meta, err := backend.Retrieve(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data, meta
}

func TestExportCopiesArchivesAndManifest(t *testing.T) {
	c, backend := exportFixture(t)
	ctx := context.Background()

	result, err := c.Export(ctx, ExportOptions{Backup: backupName, Backend: backend})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Objects.Succeeded())
	assert.Empty(t, result.Skipped)

	objects, err := backend.List(ctx, "nas/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	data, meta := readObject(t, backend, storage.ObjectKey("nas", backupName, "db.tar.gz"))
	assert.Equal(t, "database archive", string(data))
	assert.Equal(t, "nas", meta.Host)
	assert.Equal(t, backupName, meta.Backup)
	assert.Equal(t, "db.tar.gz", meta.File)
	assert.Equal(t, int64(len("database archive")), meta.Size)
	assert.False(t, meta.Encrypted)
	assert.True(t, fixedTime.Equal(meta.ExportedAt))
}

func TestExportEncrypted(t *testing.T) {
	c, backend := exportFixture(t)

	_, err := c.Export(context.Background(), ExportOptions{Backup: backupName, Backend: backend, Password: "hunter2"})
	require.NoError(t, err)

	key := storage.ObjectKey("nas", backupName, "db.tar.gz") + EncryptedSuffix
	data, meta := readObject(t, backend, key)
	assert.True(t, meta.Encrypted)
	assert.True(t, crypto.IsEncrypted(data))
	assert.Equal(t, crypto.EncryptedSize(int64(len("database archive"))), int64(len(data)))
	assert.Equal(t, int64(len(data)), meta.Size)

	plain, err := crypto.Decrypt(bytes.NewReader(data), "hunter2")
	require.NoError(t, err)
	out, err := io.ReadAll(plain)
	require.NoError(t, err)
	assert.Equal(t, "database archive", string(out))
}

func TestExportSkipsExistingUnlessForced(t *testing.T) {
	c, backend := exportFixture(t)
	ctx := context.Background()

	_, err := c.Export(ctx, ExportOptions{Backup: backupName, Backend: backend})
	require.NoError(t, err)

	again, err := c.Export(ctx, ExportOptions{Backup: backupName, Backend: backend})
	require.NoError(t, err)
	assert.Empty(t, again.Objects)
	assert.Len(t, again.Skipped, 2)

	forced, err := c.Export(ctx, ExportOptions{Backup: backupName, Backend: backend, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Objects.Succeeded())
	assert.Empty(t, forced.Skipped)
}

func TestExportUnknownBackup(t *testing.T) {
	c, backend := exportFixture(t)

	_, err := c.Export(context.Background(), ExportOptions{Backup: "20200101_000000", Backend: backend})
	require.Error(t, err)
	assert.True(t, errdefs.IsFailedPrecondition(err))
	assert.Contains(t, err.Error(), backupName)
}

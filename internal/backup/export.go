package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ypeckstadt/dhom/internal/crypto"
	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/models"
	"github.com/ypeckstadt/dhom/internal/storage"
	"github.com/ypeckstadt/dhom/pkg/version"
)

// EncryptedSuffix is appended to the key of encrypted objects.
const EncryptedSuffix = ".enc"

// ExportOptions selects what Export copies and where.
type ExportOptions struct {
	Backup  string
	Backend storage.Backend
	// Password enables encryption when set.
	Password string
	// Force re-uploads objects that already exist.
	Force bool
}

// ExportResult records what happened to each file of the backup.
type ExportResult struct {
	Objects models.Outcomes
	Skipped []string
}

// Export copies the archives and manifest of one backup to offsite storage,
// streaming each file from the host.
func (c *Client) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("storage backend is required for export")
	}
	root, err := c.backupRoot()
	if err != nil {
		return nil, err
	}
	if err := validateBackupName(opts.Backup); err != nil {
		return nil, err
	}
	dir, err := c.resolveBackupDir(ctx, root, opts.Backup)
	if err != nil {
		return nil, err
	}

	files, err := c.exec().ListDirectory(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup directory: %w", err)
	}

	result := &ExportResult{}
	for _, file := range files {
		if !strings.HasSuffix(file, models.ArchiveSuffix) && file != models.ManifestFile {
			continue
		}

		key := storage.ObjectKey(c.host.Name, opts.Backup, file)
		if opts.Password != "" {
			key += EncryptedSuffix
		}

		if !opts.Force {
			exists, err := opts.Backend.Exists(ctx, key)
			if err != nil {
				return result, fmt.Errorf("failed to check %s: %w", key, err)
			}
			if exists {
				c.printf("   ⏭️  %s already exported\n", key)
				result.Skipped = append(result.Skipped, key)
				continue
			}
		}

		err := c.exportFile(ctx, path.Join(dir, file), key, file, opts)
		outcome := models.Outcome{Kind: models.KindExport, Name: file, Archive: key, Err: err}
		result.Objects = append(result.Objects, outcome)
		c.printOutcome(outcome)
		if executor.IsTransport(err) {
			return result, err
		}
	}
	return result, nil
}

func (c *Client) exportFile(ctx context.Context, src, key, file string, opts ExportOptions) (err error) {
	size, err := c.exec().FileSize(ctx, src)
	if err != nil {
		return err
	}
	rc, err := c.exec().OpenFile(ctx, src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var reader io.Reader = rc
	storedSize := size
	encrypted := opts.Password != ""
	if encrypted {
		reader, err = crypto.Encrypt(rc, opts.Password)
		if err != nil {
			return fmt.Errorf("failed to set up encryption: %w", err)
		}
		storedSize = crypto.EncryptedSize(size)
	}

	if c.progress && storedSize > 0 {
		pr := NewProgressReader(reader, storedSize, "📤 "+file)
		defer pr.Close()
		reader = pr
	}

	obj := &storage.Object{
		Key: key,
		Metadata: storage.ObjectMetadata{
			Key:        key,
			Host:       c.host.Name,
			Backup:     opts.Backup,
			File:       file,
			Size:       storedSize,
			ExportedAt: c.now(),
			Encrypted:  encrypted,
			Version:    version.Short(),
		},
		Reader: reader,
	}
	if err := opts.Backend.Store(ctx, obj); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

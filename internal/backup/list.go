package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ypeckstadt/dhom/internal/models"
)

// List returns the backups under the host's backup root, newest first.
// A limit of zero returns all of them.
func (c *Client) List(ctx context.Context, limit int) ([]models.BackupEntry, error) {
	root, err := c.backupRoot()
	if err != nil {
		return nil, err
	}

	ok, err := c.exec().IsDirectory(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to check backup location: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("backup location %s does not exist on %s: %w",
			root, c.target.DisplayAddress, errdefs.ErrFailedPrecondition)
	}

	names, err := c.backupNames(ctx, root)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	entries := make([]models.BackupEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, c.describe(ctx, root, name))
	}
	return entries, nil
}

// backupNames lists the backup directories under root, newest first.
// Timestamp names sort chronologically.
func (c *Client) backupNames(ctx context.Context, root string) ([]string, error) {
	entries, err := c.exec().ListDirectory(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups in %s: %w", root, err)
	}

	var names []string
	for _, entry := range entries {
		ok, err := c.exec().IsDirectory(ctx, path.Join(root, entry))
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, entry)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// describe gathers the archives and manifest of one backup. Unreadable
// details are left empty.
func (c *Client) describe(ctx context.Context, root, name string) models.BackupEntry {
	dir := path.Join(root, name)
	entry := models.BackupEntry{Name: name, Path: dir}
	if t, err := time.ParseInLocation(models.TimestampLayout, name, time.Local); err == nil {
		entry.Time = t
	}

	files, err := c.exec().ListDirectory(ctx, dir)
	if err != nil {
		c.logger.Debug().Err(err).Str("backup", name).Msg("Failed to list backup")
		return entry
	}
	for _, f := range files {
		if !strings.HasSuffix(f, models.ArchiveSuffix) {
			continue
		}
		size, err := c.exec().FileSize(ctx, path.Join(dir, f))
		if err != nil {
			continue
		}
		entry.Archives = append(entry.Archives, models.ArchiveInfo{Name: f, Size: size})
	}

	entry.Manifest = c.readManifest(ctx, dir)
	return entry
}

func (c *Client) readManifest(ctx context.Context, dir string) *models.Manifest {
	rc, err := c.exec().OpenFile(ctx, path.Join(dir, models.ManifestFile))
	if err != nil {
		if !errdefs.IsNotFound(err) {
			c.logger.Debug().Err(err).Str("dir", dir).Msg("Failed to open manifest")
		}
		return nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}
	manifest, err := models.ParseManifest(string(data))
	if err != nil {
		c.logger.Debug().Err(err).Str("dir", dir).Msg("Ignoring unreadable manifest")
		return nil
	}
	return manifest
}

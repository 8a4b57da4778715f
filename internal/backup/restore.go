package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/containerd/errdefs"
)

// Restore replaces the contents of every volume archived in the named backup.
// Volumes missing on the host are created first. Containers are stopped for
// the duration and restarted afterwards.
func (c *Client) Restore(ctx context.Context, name string) (*Report, error) {
	report := c.newReport("restore")

	root, err := c.backupRoot()
	if err != nil {
		return report, err
	}
	if err := validateBackupName(name); err != nil {
		return report, err
	}
	if err := c.validateBackupRoot(ctx, root); err != nil {
		return report, err
	}

	dir, err := c.resolveBackupDir(ctx, root, name)
	if err != nil {
		return report, err
	}
	report.BackupDir = dir
	c.printf("📂 Restoring from %s on %s\n", dir, c.target.DisplayAddress)
	c.logger.Info().Str("dir", dir).Msg("Restore started")

	set, err := c.stopContainers(ctx, report)
	if set == nil && err != nil {
		return report, err
	}

	stepErrs := []error{err}
	if err == nil {
		stepErrs = append(stepErrs, c.restoreArchives(ctx, dir, report))
	}

	c.restartContainers(ctx, set, report)
	c.summarize(ctx, report)
	report.Finished = c.now()

	c.logger.Info().
		Int("succeeded", report.Artifacts().Succeeded()).
		Int("failed", report.Artifacts().Failed()).
		Msg("Restore finished")
	return report, errors.Join(stepErrs...)
}

// resolveBackupDir returns root/name, or a precondition error listing the
// backups that do exist.
func (c *Client) resolveBackupDir(ctx context.Context, root, name string) (string, error) {
	dir := path.Join(root, name)
	ok, err := c.exec().IsDirectory(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("failed to check backup %s: %w", name, err)
	}
	if ok {
		return dir, nil
	}

	available, err := c.backupNames(ctx, root)
	if err != nil || len(available) == 0 {
		return "", fmt.Errorf("backup %q not found in %s: %w", name, root, errdefs.ErrFailedPrecondition)
	}
	return "", fmt.Errorf("backup %q not found in %s (available: %s): %w",
		name, root, strings.Join(available, ", "), errdefs.ErrFailedPrecondition)
}

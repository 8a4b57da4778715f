package backup

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/models"
)

// Create takes a backup of every volume and directory bind mount on the host
// into a new timestamped directory under the backup root.
//
// Containers are stopped for the duration and restarted afterwards whenever
// they were stopped, even if archiving failed. Per-item failures are
// recorded in the report; the returned error covers step-level failures
// only.
func (c *Client) Create(ctx context.Context) (*Report, error) {
	report := c.newReport("backup")

	root, err := c.backupRoot()
	if err != nil {
		return report, err
	}
	if err := c.validateBackupRoot(ctx, root); err != nil {
		return report, err
	}

	started := report.Started
	dir := path.Join(root, started.Format(models.TimestampLayout))
	c.printf("📁 Creating backup directory %s on %s\n", dir, c.target.DisplayAddress)
	if err := c.exec().MkdirAll(ctx, dir); err != nil {
		return report, fmt.Errorf("failed to create backup directory: %w", err)
	}
	report.BackupDir = dir
	c.logger.Info().Str("dir", dir).Msg("Backup started")

	set, err := c.stopContainers(ctx, report)
	if set == nil && err != nil {
		c.summarize(ctx, report)
		report.Finished = c.now()
		return report, err
	}

	stepErrs := []error{err}
	if err == nil {
		stepErrs = append(stepErrs, c.archiveAll(ctx, dir, report))
	}

	c.restartContainers(ctx, set, report)
	c.summarize(ctx, report)
	report.Finished = c.now()

	c.logger.Info().
		Int("succeeded", report.Artifacts().Succeeded()).
		Int("failed", report.Artifacts().Failed()).
		Msg("Backup finished")
	return report, errors.Join(stepErrs...)
}

// archiveAll runs the volume, bind mount and manifest steps. A transport
// failure skips the remaining steps.
func (c *Client) archiveAll(ctx context.Context, dir string, report *Report) error {
	var errs []error

	volumes, err := c.backupVolumes(ctx, dir, report)
	volumesListed := report.VolumesFound >= 0
	if err != nil {
		if executor.IsTransport(err) {
			return err
		}
		errs = append(errs, err)
	}

	if err := c.backupBindMounts(ctx, dir, report); err != nil {
		if executor.IsTransport(err) {
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs, err)
	}

	// Without a volume listing the manifest would misstate the host.
	if !volumesListed {
		c.logger.Warn().Msg("Volume listing failed, not writing " + models.ManifestFile)
		c.printf("⚠️  Skipped %s: volumes could not be listed\n", models.ManifestFile)
		return errors.Join(errs...)
	}

	manifest := models.NewManifest(c.host.DisplayName(), report.Started, volumes)
	if err := c.exec().WriteFile(ctx, path.Join(dir, models.ManifestFile), []byte(manifest.Render())); err != nil {
		errs = append(errs, fmt.Errorf("failed to write %s: %w", models.ManifestFile, err))
	} else {
		c.printf("📝 Wrote %s\n", models.ManifestFile)
	}

	return errors.Join(errs...)
}

// summarize records the backup directory contents. It never fails the run.
func (c *Client) summarize(ctx context.Context, report *Report) {
	if report.BackupDir == "" {
		return
	}
	files, err := c.exec().ListDirectory(ctx, report.BackupDir)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list backup directory for summary")
		return
	}
	for _, f := range files {
		size, err := c.exec().FileSize(ctx, path.Join(report.BackupDir, f))
		if err != nil {
			c.logger.Debug().Err(err).Str("file", f).Msg("Skipping entry in summary")
			continue
		}
		report.Contents = append(report.Contents, models.ArchiveInfo{Name: f, Size: size})
	}
}

package backup

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ypeckstadt/dhom/internal/docker"
	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/models"
)

// archive runs the archive container for one source. With escalate set, a
// command failure is retried once with sudo; transport failures never are.
func (c *Client) archive(ctx context.Context, kind models.OutcomeKind, name, source, dir, archive string, escalate bool) models.Outcome {
	_, stop := c.spinner(fmt.Sprintf("📦 Archiving %s %s", kind, name))
	command := docker.ArchiveCommand(c.image, source, dir, archive)
	_, err := executor.RunChecked(ctx, c.exec(), command)

	escalated := false
	if err != nil && escalate && executor.IsCommandError(err) {
		c.logger.Warn().Err(err).Str("source", source).Msg("Archive failed, retrying with sudo")
		_, err = executor.RunChecked(ctx, c.exec(), docker.WithSudo(command))
		escalated = err == nil
	}
	stop()

	outcome := models.Outcome{
		Kind:      kind,
		Name:      name,
		Archive:   archive + models.ArchiveSuffix,
		Err:       err,
		Escalated: escalated,
	}
	c.printOutcome(outcome)
	return outcome
}

func (c *Client) printOutcome(o models.Outcome) {
	switch {
	case !o.OK():
		c.logger.Error().Err(o.Err).Str("kind", string(o.Kind)).Str("name", o.Name).Msg("Item failed")
		c.printf("   ❌ %s %s: %v\n", o.Kind, o.Name, o.Err)
	case o.Escalated:
		c.printf("   ✅ %s %s → %s (with sudo)\n", o.Kind, o.Name, o.Archive)
	default:
		c.printf("   ✅ %s %s → %s\n", o.Kind, o.Name, o.Archive)
	}
}

// backupVolumes archives every named volume in listing order. It returns
// the listed volumes and stops early only on a transport failure.
func (c *Client) backupVolumes(ctx context.Context, dir string, report *Report) ([]string, error) {
	volumes, err := c.docker.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	report.VolumesFound = len(volumes)

	c.printf("💾 Backing up %d volumes...\n", len(volumes))
	for _, vol := range volumes {
		outcome := c.archive(ctx, models.KindVolume, vol, vol, dir, vol, false)
		report.Volumes = append(report.Volumes, outcome)
		if executor.IsTransport(outcome.Err) {
			return volumes, outcome.Err
		}
	}
	return volumes, nil
}

// backupBindMounts archives the directory bind mounts of every container.
// Mounts of single files, or of paths missing on the host, are skipped.
func (c *Client) backupBindMounts(ctx context.Context, dir string, report *Report) error {
	containers, err := c.docker.ListContainers(ctx)
	if err != nil {
		return err
	}

	c.printf("🗂️  Backing up bind mounts of %d containers...\n", len(containers))
	for _, name := range containers {
		sources, err := c.docker.BindMounts(ctx, name)
		if err != nil {
			report.BindMounts = append(report.BindMounts, models.Outcome{Kind: models.KindBindMount, Name: name, Err: err})
			if executor.IsTransport(err) {
				return err
			}
			continue
		}

		for _, source := range sources {
			label := name + ":" + source
			isDir, err := c.exec().IsDirectory(ctx, source)
			if err != nil {
				report.BindMounts = append(report.BindMounts, models.Outcome{Kind: models.KindBindMount, Name: label, Err: err})
				if executor.IsTransport(err) {
					return err
				}
				continue
			}
			if !isDir {
				c.logger.Debug().Str("container", name).Str("source", source).Msg("Skipping bind mount that is not a directory")
				report.Skipped = append(report.Skipped, label)
				continue
			}

			archive := bindMountArchiveName(name, source)
			outcome := c.archive(ctx, models.KindBindMount, label, source, dir, archive, true)
			report.BindMounts = append(report.BindMounts, outcome)
			if executor.IsTransport(outcome.Err) {
				return outcome.Err
			}
		}
	}
	return nil
}

// bindMountArchiveName is "{container}_{base of source}".
func bindMountArchiveName(container, source string) string {
	base := path.Base(strings.TrimRight(source, "/"))
	if base == "/" || base == "." || base == "" {
		base = "root"
	}
	return container + "_" + base
}

// restoreArchives restores every *.tar.gz directly under dir into the volume
// named by the file's stem. Other files are ignored.
func (c *Client) restoreArchives(ctx context.Context, dir string, report *Report) error {
	entries, err := c.exec().ListDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to list backup directory: %w", err)
	}

	for _, entry := range entries {
		volume, ok := strings.CutSuffix(entry, models.ArchiveSuffix)
		if !ok || volume == "" {
			continue
		}
		outcome := c.restoreArchive(ctx, dir, volume)
		report.Restores = append(report.Restores, outcome)
		if executor.IsTransport(outcome.Err) {
			return outcome.Err
		}
	}

	if len(report.Restores) == 0 {
		c.printf("ℹ️  No archives found in %s\n", dir)
	}
	return nil
}

func (c *Client) restoreArchive(ctx context.Context, dir, volume string) models.Outcome {
	progress, stop := c.spinner("♻️  Restoring volume " + volume)
	created, err := c.docker.EnsureVolume(ctx, volume)
	if err == nil {
		if created && progress != nil {
			progress.Update("♻️  Restoring new volume " + volume)
		}
		_, err = executor.RunChecked(ctx, c.exec(), docker.RestoreCommand(c.image, volume, dir, volume))
	}
	stop()

	outcome := models.Outcome{
		Kind:    models.KindRestore,
		Name:    volume,
		Archive: volume + models.ArchiveSuffix,
		Err:     err,
	}
	c.printOutcome(outcome)
	return outcome
}

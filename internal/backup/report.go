package backup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ypeckstadt/dhom/internal/docker"
	"github.com/ypeckstadt/dhom/internal/models"
	"github.com/ypeckstadt/dhom/internal/ui"
)

// Report is the outcome of one backup or restore run.
type Report struct {
	Operation string
	Host      string
	Address   string
	Local     bool
	RunID     string
	BackupDir string

	// VolumesFound is the number of volumes listed on the host, or -1 when
	// they were never listed.
	VolumesFound int

	Stopped    docker.RunningSet
	Stops      models.Outcomes
	Starts     models.Outcomes
	Volumes    models.Outcomes
	BindMounts models.Outcomes
	Restores   models.Outcomes
	// Skipped lists bind mounts that were not directories on the host.
	Skipped  []string
	Contents []models.ArchiveInfo

	Started  time.Time
	Finished time.Time
}

// Artifacts returns the per-archive outcomes of the run.
func (r *Report) Artifacts() models.Outcomes {
	var all models.Outcomes
	all = append(all, r.Volumes...)
	all = append(all, r.BindMounts...)
	all = append(all, r.Restores...)
	return all
}

// Err joins every per-item failure, including containers that did not come
// back up.
func (r *Report) Err() error {
	return errors.Join(r.Artifacts().Err(), r.Starts.Err())
}

// Render formats the report for the terminal.
func (r *Report) Render() string {
	var b strings.Builder

	where := r.Address
	if r.Local {
		where = "local"
	}
	fmt.Fprintf(&b, "\n%s\n", ui.TitleStyle.Render(fmt.Sprintf("%s summary: %s (%s)", strings.ToUpper(r.Operation[:1])+r.Operation[1:], r.Host, where)))
	if r.BackupDir != "" {
		fmt.Fprintf(&b, "  %s\n", ui.Field("directory", r.BackupDir))
	}
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "  %s\n", ui.Field("duration", r.Finished.Sub(r.Started).Round(time.Second).String()))
	}

	if r.Operation == "backup" {
		if r.VolumesFound < 0 {
			fmt.Fprintf(&b, "  %s %s\n", ui.LabelStyle.Render("volumes:"), ui.ErrorStyle.Render("not listed"))
		} else {
			fmt.Fprintf(&b, "  %s %d/%d backed up\n", ui.LabelStyle.Render("volumes:"), r.Volumes.Succeeded(), r.VolumesFound)
		}
		if len(r.BindMounts) > 0 || len(r.Skipped) > 0 {
			fmt.Fprintf(&b, "  %s %d/%d backed up, %d skipped\n", ui.LabelStyle.Render("bind mounts:"),
				r.BindMounts.Succeeded(), len(r.BindMounts), len(r.Skipped))
		}
	}

	artifacts := r.Artifacts()
	status := ui.SuccessStyle.Render(fmt.Sprintf("%d succeeded", artifacts.Succeeded()))
	if failed := artifacts.Failed(); failed > 0 {
		status += ", " + ui.ErrorStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	fmt.Fprintf(&b, "  %s %s\n", ui.LabelStyle.Render("archives:"), status)

	if len(r.Stopped) > 0 {
		fmt.Fprintf(&b, "  %s %d/%d restarted\n", ui.LabelStyle.Render("containers:"), r.Starts.Succeeded(), len(r.Stopped))
	}

	for _, f := range artifacts.Failures() {
		fmt.Fprintf(&b, "  %s\n", ui.ErrorStyle.Render(fmt.Sprintf("✗ %s %s: %v", f.Kind, f.Name, f.Err)))
	}
	for _, f := range r.Starts.Failures() {
		fmt.Fprintf(&b, "  %s\n", ui.WarnStyle.Render(fmt.Sprintf("⚠ container %s did not restart: %v", f.Name, f.Err)))
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  %s\n", ui.DimStyle.Render("skipped "+s+" (not a directory)"))
	}

	if len(r.Contents) > 0 {
		rows := make([][]string, 0, len(r.Contents))
		var total int64
		for _, f := range r.Contents {
			rows = append(rows, []string{f.Name, ui.FormatSize(f.Size)})
			total += f.Size
		}
		fmt.Fprintf(&b, "\n%s\n", ui.Table([]string{"file", "size"}, rows))
		fmt.Fprintf(&b, "  %s\n", ui.DimStyle.Render("total: "+ui.FormatSize(total)))
	}

	return b.String()
}

// Package backup orchestrates backups and restores of a Docker host's
// volumes and bind mounts, locally or over SSH.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ypeckstadt/dhom/internal/config"
	"github.com/ypeckstadt/dhom/internal/docker"
	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/target"
)

// Options tunes a Client.
type Options struct {
	// Image is the helper image archive containers run. Defaults to alpine.
	Image   string
	Verbose bool
	Quiet   bool
	// Progress enables terminal spinners and progress bars.
	Progress bool
	Out      io.Writer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Client runs backup operations against one host. It owns the host's
// execution context; Close releases it.
type Client struct {
	target   *target.Context
	host     config.Host
	docker   *docker.Client
	image    string
	verbose  bool
	quiet    bool
	progress bool
	out      io.Writer
	logger   zerolog.Logger
	now      func() time.Time
	runID    string
}

// Open resolves host and returns a client bound to it. For remote hosts the
// SSH connection is established here.
func Open(ctx context.Context, resolver *target.Resolver, host config.Host, opts Options) (*Client, error) {
	tc, err := resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return NewClient(tc, host, opts), nil
}

// NewClient creates a client on an already resolved execution context.
func NewClient(tc *target.Context, host config.Host, opts Options) *Client {
	if opts.Image == "" {
		opts.Image = config.DefaultImage
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	runID := uuid.NewString()
	logger := opts.Logger.With().
		Str("host", host.Name).
		Str("run_id", runID).
		Logger()

	return &Client{
		target:   tc,
		host:     host,
		docker:   docker.NewClient(tc.Executor, logger),
		image:    opts.Image,
		verbose:  opts.Verbose,
		quiet:    opts.Quiet,
		progress: opts.Progress && !opts.Quiet,
		out:      opts.Out,
		logger:   logger.With().Str("component", "backup").Logger(),
		now:      opts.Now,
		runID:    runID,
	}
}

// Close releases the execution context.
func (c *Client) Close() error {
	return c.target.Close()
}

// Target returns the resolved execution context.
func (c *Client) Target() *target.Context {
	return c.target
}

// Volumes lists the named volumes on the host.
func (c *Client) Volumes(ctx context.Context) ([]string, error) {
	return c.docker.ListVolumes(ctx)
}

func (c *Client) exec() executor.Executor {
	return c.target.Executor
}

func (c *Client) printf(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, format, args...)
}

// spinner starts a progress spinner and returns the func that stops it.
func (c *Client) spinner(description string) (*Spinner, func()) {
	if !c.progress {
		if c.verbose {
			c.printf("%s...\n", description)
		}
		return nil, func() {}
	}
	s := NewSpinner(description)
	return s, s.Stop
}

func (c *Client) newReport(operation string) *Report {
	return &Report{
		Operation: operation,
		Host:      c.host.Name,
		Address:   c.target.DisplayAddress,
		Local:     c.target.IsLocal,
		RunID:     c.runID,
		Started:   c.now(),

		VolumesFound: -1,
	}
}

// backupRoot returns the configured backup root, or a configuration error
// naming the key to set.
func (c *Client) backupRoot() (string, error) {
	root, err := c.host.RequireBackupPath()
	if err != nil {
		return "", err
	}
	return path.Clean(root), nil
}

// validateBackupRoot checks that the parent of the backup root exists, which
// catches an unmounted drive or share before anything is touched.
func (c *Client) validateBackupRoot(ctx context.Context, root string) error {
	parent := path.Dir(root)
	ok, err := c.exec().IsDirectory(ctx, parent)
	if err != nil {
		return fmt.Errorf("failed to check backup location: %w", err)
	}
	if !ok {
		return fmt.Errorf("parent directory %s of backup location does not exist on %s (is the drive mounted?): %w",
			parent, c.target.DisplayAddress, errdefs.ErrFailedPrecondition)
	}
	return nil
}

// validateBackupName rejects names that would escape the backup root.
func validateBackupName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid backup name %q: %w", name, errdefs.ErrInvalidArgument)
	}
	return nil
}

// stopContainers stops every running container and records the outcomes.
// A nil set with an error means nothing was stopped.
func (c *Client) stopContainers(ctx context.Context, report *Report) (docker.RunningSet, error) {
	c.printf("⏸️  Stopping running containers...\n")
	set, outcomes, err := c.docker.StopAll(ctx)
	if set == nil && err != nil {
		return nil, fmt.Errorf("failed to stop containers: %w", err)
	}
	report.Stopped = set
	report.Stops = outcomes
	c.printf("   Stopped %d/%d containers\n", outcomes.Succeeded(), len(set))
	return set, err
}

// restartContainers restarts exactly the captured set.
func (c *Client) restartContainers(ctx context.Context, set docker.RunningSet, report *Report) {
	if len(set) == 0 {
		return
	}
	c.printf("▶️  Restarting %d containers...\n", len(set))
	report.Starts = c.docker.StartAll(ctx, set)
	for _, failed := range report.Starts.Failures() {
		c.printf("⚠️  Warning: failed to restart %s: %v\n", failed.Name, failed.Err)
	}
}

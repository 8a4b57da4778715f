// Package executor provides a uniform surface for filesystem queries and
// shell command execution on either the local machine or a remote host
// reached over SSH.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
)

// Kind identifies where an Executor runs its operations.
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ErrTransport marks failures of the channel to the target itself, as opposed
// to failures of a command that ran on it. Transport failures are never retried.
var ErrTransport = fmt.Errorf("transport failure: %w", errdefs.ErrUnavailable)

// Executor runs filesystem and shell operations against one target machine.
type Executor interface {
	// IsDirectory reports whether path exists and is a directory.
	IsDirectory(ctx context.Context, path string) (bool, error)
	// ListDirectory returns the sorted entry names of a directory.
	// A missing directory yields an error matching errdefs.IsNotFound.
	ListDirectory(ctx context.Context, path string) ([]string, error)
	// FileExists reports whether path exists and is a regular file.
	FileExists(ctx context.Context, path string) (bool, error)
	// MkdirAll creates path and any missing parents.
	MkdirAll(ctx context.Context, path string) error
	// WriteFile creates or truncates path with data. The parent must exist.
	WriteFile(ctx context.Context, path string, data []byte) error
	// Run executes a shell command. A non-zero exit status is reported in
	// the Result, not as an error.
	Run(ctx context.Context, command string) (*Result, error)
	// OpenFile streams the contents of a regular file.
	OpenFile(ctx context.Context, path string) (io.ReadCloser, error)
	// FileSize returns the size in bytes of a regular file.
	FileSize(ctx context.Context, path string) (int64, error)
	Kind() Kind
	Close() error
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Success reports whether the command exited with status zero.
func (r *Result) Success() bool {
	return r.ExitStatus == 0
}

// Err returns a *CommandError for a failed command and nil otherwise.
func (r *Result) Err(command string) error {
	if r.Success() {
		return nil
	}
	return &CommandError{Command: command, ExitStatus: r.ExitStatus, Stderr: r.Stderr}
}

// Lines splits stdout into trimmed, non-empty lines.
func (r *Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// CommandError describes a command that ran but exited non-zero.
type CommandError struct {
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command exited with status %d: %s", e.ExitStatus, e.Command)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// IsCommandError reports whether err is, or wraps, a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// RunChecked runs command and converts a non-zero exit into a *CommandError.
func RunChecked(ctx context.Context, exec Executor, command string) (*Result, error) {
	res, err := exec.Run(ctx, command)
	if err != nil {
		return nil, err
	}
	if err := res.Err(command); err != nil {
		return res, err
	}
	return res, nil
}

func notFound(path string) error {
	return fmt.Errorf("%s: %w", path, errdefs.ErrNotFound)
}

func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

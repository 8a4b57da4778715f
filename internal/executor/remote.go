package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
)

// exitNotFound is the status remote helper scripts use to report a missing path.
const exitNotFound = 44

// Remote runs operations on another machine over a single SSH connection.
// Every operation opens its own session on that connection.
type Remote struct {
	client  *ssh.Client
	address string
}

// NewRemote wraps an established SSH connection. The Remote owns the
// connection and closes it in Close.
func NewRemote(client *ssh.Client, address string) *Remote {
	return &Remote{client: client, address: address}
}

func (r *Remote) Kind() Kind { return KindRemote }

func (r *Remote) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to close connection to %s: %w", r.address, err)
	}
	return nil
}

func (r *Remote) Run(ctx context.Context, command string) (*Result, error) {
	return r.run(ctx, command, nil)
}

func (r *Remote) run(ctx context.Context, command string, stdin io.Reader) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := r.client.NewSession()
	if err != nil {
		return nil, transportError("open session on "+r.address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			return res, nil
		}
		return nil, transportError(fmt.Sprintf("run %q on %s", command, r.address), err)
	}
	return res, nil
}

// test runs a `test` expression and maps exit status 0/1 to true/false.
func (r *Remote) test(ctx context.Context, flag, p string) (bool, error) {
	command := fmt.Sprintf("test %s %s", flag, shellescape.Quote(p))
	res, err := r.Run(ctx, command)
	if err != nil {
		return false, err
	}
	switch res.ExitStatus {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, res.Err(command)
	}
}

func (r *Remote) IsDirectory(ctx context.Context, p string) (bool, error) {
	return r.test(ctx, "-d", p)
}

func (r *Remote) FileExists(ctx context.Context, p string) (bool, error) {
	return r.test(ctx, "-f", p)
}

func (r *Remote) ListDirectory(ctx context.Context, p string) ([]string, error) {
	quoted := shellescape.Quote(p)
	command := fmt.Sprintf("[ -d %s ] || exit %d; ls -1A %s", quoted, exitNotFound, quoted)
	res, err := r.checked(ctx, command, p, nil)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Remote) MkdirAll(ctx context.Context, p string) error {
	_, err := RunChecked(ctx, r, "mkdir -p "+shellescape.Quote(p))
	return err
}

func (r *Remote) WriteFile(ctx context.Context, p string, data []byte) error {
	parent := path.Dir(p)
	command := fmt.Sprintf("[ -d %s ] || exit %d; cat > %s",
		shellescape.Quote(parent), exitNotFound, shellescape.Quote(p))
	_, err := r.checked(ctx, command, parent, bytes.NewReader(data))
	return err
}

func (r *Remote) FileSize(ctx context.Context, p string) (int64, error) {
	quoted := shellescape.Quote(p)
	command := fmt.Sprintf("[ -f %s ] || exit %d; wc -c < %s", quoted, exitNotFound, quoted)
	res, err := r.checked(ctx, command, p, nil)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected size output for %s: %q", p, res.Stdout)
	}
	return size, nil
}

func (r *Remote) OpenFile(ctx context.Context, p string) (io.ReadCloser, error) {
	ok, err := r.FileExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(p)
	}

	session, err := r.client.NewSession()
	if err != nil {
		return nil, transportError("open session on "+r.address, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, transportError("attach stdout on "+r.address, err)
	}
	command := "cat " + shellescape.Quote(p)
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, transportError(fmt.Sprintf("start %q on %s", command, r.address), err)
	}
	return &remoteFile{session: session, stdout: stdout, command: command}, nil
}

// checked runs command and maps the not-found exit status onto errdefs.ErrNotFound.
func (r *Remote) checked(ctx context.Context, command, p string, stdin io.Reader) (*Result, error) {
	res, err := r.run(ctx, command, stdin)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus == exitNotFound {
		return nil, notFound(p)
	}
	if err := res.Err(command); err != nil {
		return nil, err
	}
	return res, nil
}

type remoteFile struct {
	session *ssh.Session
	stdout  io.Reader
	command string
	eof     bool
}

func (f *remoteFile) Read(p []byte) (int, error) {
	n, err := f.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		f.eof = true
	}
	return n, err
}

func (f *remoteFile) Close() error {
	defer f.session.Close()
	if !f.eof {
		return nil
	}
	if err := f.session.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &CommandError{Command: f.command, ExitStatus: exitErr.ExitStatus()}
		}
		return transportError("wait for "+f.command, err)
	}
	return nil
}

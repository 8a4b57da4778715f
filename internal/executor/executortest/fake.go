// Package executortest provides an in-memory Executor for tests.
package executortest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/containerd/errdefs"

	"github.com/ypeckstadt/dhom/internal/executor"
)

// Handler answers a command issued through Run.
type Handler func(command string) (*executor.Result, error)

type route struct {
	prefix  string
	handler Handler
}

// Fake is an Executor backed by an in-memory filesystem. Commands are
// answered by handlers registered with On; unmatched commands succeed with
// empty output. Every command is recorded in order.
type Fake struct {
	mu       sync.Mutex
	kind     executor.Kind
	dirs     map[string]bool
	files    map[string][]byte
	routes   []route
	commands []string
	closed   bool
}

// New returns an empty local-kind Fake containing only "/".
func New() *Fake {
	return &Fake{
		kind:  executor.KindLocal,
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
	}
}

// NewRemote returns an empty Fake reporting KindRemote.
func NewRemote() *Fake {
	f := New()
	f.kind = executor.KindRemote
	return f
}

// On registers a handler for commands starting with prefix. Handlers
// registered later take precedence.
func (f *Fake) On(prefix string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{prefix: prefix, handler: h})
	return f
}

// Reply returns a handler that succeeds with stdout.
func Reply(stdout string) Handler {
	return func(string) (*executor.Result, error) {
		return &executor.Result{Stdout: stdout}, nil
	}
}

// Fail returns a handler that exits with status and stderr.
func Fail(status int, stderr string) Handler {
	return func(string) (*executor.Result, error) {
		return &executor.Result{ExitStatus: status, Stderr: stderr}, nil
	}
}

// Broken returns a handler that reports a transport failure.
func Broken() Handler {
	return func(command string) (*executor.Result, error) {
		return nil, fmt.Errorf("run %q: %w", command, executor.ErrTransport)
	}
}

// AddDir creates dir and its parents.
func (f *Fake) AddDir(dir string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAll(dir)
	return f
}

// AddFile creates a file and its parent directories.
func (f *Fake) AddFile(p string, data []byte) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAll(path.Dir(p))
	f.files[path.Clean(p)] = append([]byte(nil), data...)
	return f
}

// File returns the contents of a file and whether it exists.
func (f *Fake) File(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path.Clean(p)]
	return data, ok
}

// HasDir reports whether dir exists.
func (f *Fake) HasDir(dir string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path.Clean(dir)]
}

// Commands returns the commands issued so far.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// CommandsWithPrefix returns the issued commands starting with prefix.
func (f *Fake) CommandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) mkdirAll(dir string) {
	dir = path.Clean(dir)
	for dir != "/" && dir != "." {
		f.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

func (f *Fake) Kind() executor.Kind { return f.kind }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) IsDirectory(_ context.Context, p string) (bool, error) {
	return f.HasDir(p), nil
}

func (f *Fake) FileExists(_ context.Context, p string) (bool, error) {
	_, ok := f.File(p)
	return ok, nil
}

func (f *Fake) ListDirectory(_ context.Context, p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := path.Clean(p)
	if !f.dirs[dir] {
		return nil, fmt.Errorf("%s: %w", p, errdefs.ErrNotFound)
	}

	seen := map[string]bool{}
	collect := func(entry string) {
		if entry != dir && path.Dir(entry) == dir {
			seen[path.Base(entry)] = true
		}
	}
	for d := range f.dirs {
		collect(d)
	}
	for file := range f.files {
		collect(file)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) MkdirAll(_ context.Context, p string) error {
	f.AddDir(p)
	return nil
}

func (f *Fake) WriteFile(_ context.Context, p string, data []byte) error {
	if !f.HasDir(path.Dir(p)) {
		return fmt.Errorf("%s: %w", path.Dir(p), errdefs.ErrNotFound)
	}
	f.AddFile(p, data)
	return nil
}

func (f *Fake) OpenFile(_ context.Context, p string) (io.ReadCloser, error) {
	data, ok := f.File(p)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, errdefs.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fake) FileSize(_ context.Context, p string) (int64, error) {
	data, ok := f.File(p)
	if !ok {
		return 0, fmt.Errorf("%s: %w", p, errdefs.ErrNotFound)
	}
	return int64(len(data)), nil
}

func (f *Fake) Run(_ context.Context, command string) (*executor.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	var handler Handler
	for i := len(f.routes) - 1; i >= 0; i-- {
		if strings.HasPrefix(command, f.routes[i].prefix) {
			handler = f.routes[i].handler
			break
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return &executor.Result{}, nil
	}
	return handler(command)
}

var _ executor.Executor = (*Fake)(nil)

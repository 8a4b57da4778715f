// Package target decides whether an operation runs on this machine or on a
// remote host, and builds the matching executor.
package target

import (
	"context"
	"fmt"
	stdnet "net"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/ypeckstadt/dhom/internal/config"
	"github.com/ypeckstadt/dhom/internal/executor"
)

// Context is the resolved execution environment for one operation.
type Context struct {
	Executor       executor.Executor
	IsLocal        bool
	DisplayAddress string
	Name           string
}

// Close releases the executor's connection, if any.
func (c *Context) Close() error {
	return c.Executor.Close()
}

// AddressLister returns the IP addresses assigned to this machine's
// network interfaces.
type AddressLister func(ctx context.Context) ([]string, error)

// Dialer opens a remote executor to addr for host.
type Dialer func(ctx context.Context, host config.Host, addr string) (executor.Executor, error)

// Resolver classifies hosts as local or remote.
type Resolver struct {
	addresses AddressLister
	dial      Dialer
	logger    zerolog.Logger
}

// NewResolver creates a resolver. A nil lister uses the machine's interfaces.
func NewResolver(addresses AddressLister, dial Dialer, logger zerolog.Logger) *Resolver {
	if addresses == nil {
		addresses = InterfaceAddresses
	}
	return &Resolver{
		addresses: addresses,
		dial:      dial,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve builds the execution context for host. Remote hosts are dialed
// immediately so connection problems surface before anything is changed.
func (r *Resolver) Resolve(ctx context.Context, host config.Host) (*Context, error) {
	local, err := r.IsLocal(ctx, host)
	if err != nil {
		return nil, err
	}
	if local {
		r.logger.Debug().Str("host", host.Name).Msg("Running locally")
		return &Context{
			Executor:       executor.NewLocal(),
			IsLocal:        true,
			DisplayAddress: config.LocalhostName,
			Name:           host.Name,
		}, nil
	}

	addr, err := host.ConnectTarget()
	if err != nil {
		return nil, err
	}
	if r.dial == nil {
		return nil, fmt.Errorf("no remote dialer configured for host %q", host.Name)
	}

	r.logger.Debug().Str("host", host.Name).Str("address", addr).Msg("Connecting over SSH")
	exec, err := r.dial(ctx, host, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s (%s): %w", host.Name, addr, err)
	}

	return &Context{
		Executor:       exec,
		IsLocal:        false,
		DisplayAddress: addr,
		Name:           host.Name,
	}, nil
}

// IsLocal reports whether host refers to this machine: either by the
// localhost name or by an IP assigned to a local interface.
func (r *Resolver) IsLocal(ctx context.Context, host config.Host) (bool, error) {
	if strings.EqualFold(host.Name, config.LocalhostName) {
		return true, nil
	}
	if host.IP == "" {
		return false, nil
	}

	addrs, err := r.addresses(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list local addresses: %w", err)
	}
	want := stdnet.ParseIP(host.IP)
	for _, a := range addrs {
		if a == host.IP {
			return true, nil
		}
		if want != nil && want.Equal(stdnet.ParseIP(a)) {
			return true, nil
		}
	}
	return false, nil
}

// InterfaceAddresses lists the non-loopback addresses of local interfaces.
func InterfaceAddresses(ctx context.Context) ([]string, error) {
	interfaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, iface := range interfaces {
		for _, a := range iface.Addrs {
			ip := a.Addr
			if i := strings.IndexByte(ip, '/'); i >= 0 {
				ip = ip[:i]
			}
			parsed := stdnet.ParseIP(ip)
			if parsed == nil || parsed.IsLoopback() {
				continue
			}
			addrs = append(addrs, parsed.String())
		}
	}
	return addrs, nil
}

// SSHDialer returns a Dialer that connects with the shared SSH settings.
func SSHDialer(settings config.SSH, agentSocket string, passphrase executor.PassphraseFunc) Dialer {
	return func(_ context.Context, host config.Host, addr string) (executor.Executor, error) {
		user := host.User
		if user == "" {
			user = settings.User
		}
		return executor.Dial(executor.DialConfig{
			Host:                  addr,
			Port:                  host.Port,
			User:                  user,
			AgentSocket:           agentSocket,
			IdentityFiles:         settings.IdentityFiles,
			KnownHostsFile:        settings.KnownHostsFile,
			InsecureIgnoreHostKey: settings.InsecureIgnoreHostKey,
			Passphrase:            passphrase,
		})
	}
}

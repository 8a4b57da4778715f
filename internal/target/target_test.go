package target

import (
	"context"
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ypeckstadt/dhom/internal/config"
	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/executor/executortest"
)

func staticAddresses(addrs ...string) AddressLister {
	return func(context.Context) ([]string, error) { return addrs, nil }
}

type dialRecorder struct {
	calls []string
	err   error
}

func (d *dialRecorder) dial(_ context.Context, _ config.Host, addr string) (executor.Executor, error) {
	d.calls = append(d.calls, addr)
	if d.err != nil {
		return nil, d.err
	}
	return executortest.NewRemote(), nil
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		host        config.Host
		local       bool
		wantAddress string
	}{
		{
			name:        "localhost alias",
			host:        config.Host{Name: "localhost", IP: "10.9.9.9"},
			local:       true,
			wantAddress: "localhost",
		},
		{
			name:        "ip matches local interface",
			host:        config.Host{Name: "nas", IP: "192.168.1.10"},
			local:       true,
			wantAddress: "localhost",
		},
		{
			name:        "remote by ip",
			host:        config.Host{Name: "pi", IP: "192.168.1.20", SSHAlias: "pi-ts"},
			local:       false,
			wantAddress: "192.168.1.20",
		},
		{
			name:        "remote by alias",
			host:        config.Host{Name: "vps", SSHAlias: "vps-ts"},
			local:       false,
			wantAddress: "vps-ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &dialRecorder{}
			r := NewResolver(staticAddresses("192.168.1.10", "fe80::1"), d.dial, zerolog.Nop())

			tc, err := r.Resolve(context.Background(), tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.local, tc.IsLocal)
			assert.Equal(t, tt.wantAddress, tc.DisplayAddress)
			assert.Equal(t, tt.host.Name, tc.Name)

			if tt.local {
				assert.Empty(t, d.calls, "local hosts are never dialed")
				assert.Equal(t, executor.KindLocal, tc.Executor.Kind())
			} else {
				assert.Equal(t, []string{tt.wantAddress}, d.calls)
				assert.Equal(t, executor.KindRemote, tc.Executor.Kind())
			}
			require.NoError(t, tc.Close())
		})
	}
}

func TestResolveMissingAddress(t *testing.T) {
	d := &dialRecorder{}
	r := NewResolver(staticAddresses(), d.dial, zerolog.Nop())

	_, err := r.Resolve(context.Background(), config.Host{Name: "ghost"})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.Empty(t, d.calls)
}

func TestResolveDialFailure(t *testing.T) {
	d := &dialRecorder{err: errors.Join(executor.ErrTransport, errors.New("connection refused"))}
	r := NewResolver(staticAddresses(), d.dial, zerolog.Nop())

	_, err := r.Resolve(context.Background(), config.Host{Name: "pi", IP: "192.168.1.20"})
	require.Error(t, err)
	assert.True(t, executor.IsTransport(err))
	assert.Contains(t, err.Error(), "pi")
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(staticAddresses("10.0.0.5"), (&dialRecorder{}).dial, zerolog.Nop())
	host := config.Host{Name: "box", IP: "10.0.0.5"}

	for i := 0; i < 5; i++ {
		local, err := r.IsLocal(context.Background(), host)
		require.NoError(t, err)
		assert.True(t, local)
	}
}

func TestIsLocalNormalizesIPv6(t *testing.T) {
	r := NewResolver(staticAddresses("fd00::1"), nil, zerolog.Nop())

	local, err := r.IsLocal(context.Background(), config.Host{Name: "v6", IP: "fd00:0:0::1"})
	require.NoError(t, err)
	assert.True(t, local)
}

func TestIsLocalListerFailure(t *testing.T) {
	failing := func(context.Context) ([]string, error) { return nil, errors.New("netlink unavailable") }
	r := NewResolver(failing, nil, zerolog.Nop())

	_, err := r.IsLocal(context.Background(), config.Host{Name: "nas", IP: "10.0.0.1"})
	assert.Error(t, err)
}

func TestInterfaceAddressesExcludesLoopback(t *testing.T) {
	addrs, err := InterfaceAddresses(context.Background())
	require.NoError(t, err)
	for _, a := range addrs {
		assert.NotEqual(t, "127.0.0.1", a)
		assert.NotEqual(t, "::1", a)
	}
}

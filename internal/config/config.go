// Package config loads host definitions from a .env file or a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
)

// LocalhostName is always resolvable, configured or not.
const LocalhostName = "localhost"

// DefaultImage is the helper image used for archive containers.
const DefaultImage = "alpine"

type format int

const (
	formatEnv format = iota
	formatTOML
)

// Host is one configured target machine.
type Host struct {
	Name string
	// IP is the primary network address. Compared against local
	// interfaces to detect that the host is this machine.
	IP string
	// SSHAlias is a name resolvable by the SSH client, such as a Tailscale
	// machine name. Used only when IP is empty.
	SSHAlias   string
	Hostname   string
	BackupPath string
	User       string
	Port       int

	format format
}

// SSH holds connection settings shared by all hosts.
type SSH struct {
	User                  string   `toml:"user"`
	IdentityFiles         []string `toml:"identity_files"`
	KnownHostsFile        string   `toml:"known_hosts"`
	InsecureIgnoreHostKey bool     `toml:"insecure_ignore_host_key"`
}

// Config is the loaded configuration.
type Config struct {
	Path  string
	Image string
	SSH   SSH
	Hosts map[string]Host
}

// Defaults fills settings the file leaves out. They come from the process
// environment, which only cmd reads.
type Defaults struct {
	User    string
	HomeDir string
}

// MissingKeyError reports a configuration value that must be added before
// the operation can run.
type MissingKeyError struct {
	Host string
	Keys []string
	What string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("host %q has no %s configured: set %s", e.Host, e.What, strings.Join(e.Keys, " or "))
}

func (e *MissingKeyError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}

// Load reads path as TOML when it ends in .toml and as a .env file otherwise.
func Load(path string, defaults Defaults) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		cfg, err = loadTOML(path)
	} else {
		cfg, err = loadEnv(path)
	}
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	cfg.applyDefaults(defaults)
	return cfg, nil
}

// Empty returns a configuration with no hosts, used when no file exists.
func Empty(defaults Defaults) *Config {
	cfg := &Config{Hosts: map[string]Host{}}
	cfg.applyDefaults(defaults)
	return cfg
}

func (c *Config) applyDefaults(d Defaults) {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.SSH.User == "" {
		c.SSH.User = d.User
	}
	if c.SSH.User == "" {
		c.SSH.User = "root"
	}
	if d.HomeDir != "" {
		if c.SSH.KnownHostsFile == "" {
			c.SSH.KnownHostsFile = filepath.Join(d.HomeDir, ".ssh", "known_hosts")
		}
		if len(c.SSH.IdentityFiles) == 0 {
			c.SSH.IdentityFiles = []string{
				filepath.Join(d.HomeDir, ".ssh", "id_ed25519"),
				filepath.Join(d.HomeDir, ".ssh", "id_rsa"),
			}
		}
	}
	for name, h := range c.Hosts {
		h.Name = name
		if h.User == "" {
			h.User = c.SSH.User
		}
		c.Hosts[name] = h
	}
}

// Host returns the named host. "localhost" resolves even when it is not
// configured.
func (c *Config) Host(name string) (Host, error) {
	name = strings.ToLower(name)
	if h, ok := c.Hosts[name]; ok {
		return h, nil
	}
	if name == LocalhostName {
		return Host{Name: LocalhostName, User: c.SSH.User}, nil
	}
	names := c.HostNames()
	if len(names) == 0 {
		return Host{}, fmt.Errorf("unknown host %q: no hosts configured: %w", name, errdefs.ErrInvalidArgument)
	}
	return Host{}, fmt.Errorf("unknown host %q (available: %s): %w", name, strings.Join(names, ", "), errdefs.ErrInvalidArgument)
}

// HostNames returns the configured host names, sorted.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectTarget is the address an SSH connection is made to: the IP when
// configured, otherwise the SSH alias.
func (h Host) ConnectTarget() (string, error) {
	if h.IP != "" {
		return h.IP, nil
	}
	if h.SSHAlias != "" {
		return h.SSHAlias, nil
	}
	return "", &MissingKeyError{Host: h.Name, What: "network address", Keys: []string{h.key("ip"), h.key("ssh_alias")}}
}

// RequireBackupPath returns the backup root or a remediation error naming
// the key to set.
func (h Host) RequireBackupPath() (string, error) {
	if h.BackupPath == "" {
		return "", &MissingKeyError{Host: h.Name, What: "backup path", Keys: []string{h.key("backup_path")}}
	}
	return h.BackupPath, nil
}

// DisplayName is the hostname when known, else the configured name.
func (h Host) DisplayName() string {
	if h.Hostname != "" {
		return h.Hostname
	}
	return h.Name
}

func (h Host) key(field string) string {
	if h.format == formatTOML {
		return fmt.Sprintf("hosts.%s.%s", h.Name, field)
	}
	suffix := map[string]string{
		"ip":          "IP",
		"ssh_alias":   "TAILSCALE",
		"backup_path": "BACKUP_PATH",
	}[field]
	return fmt.Sprintf("HOST_%s_%s", strings.ToUpper(h.Name), suffix)
}

// Find looks for dhom.toml or .env in dir and its parents.
func Find(dir string) (string, bool) {
	for {
		for _, name := range []string{"dhom.toml", ".env"} {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

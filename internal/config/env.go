package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// hostKeySuffixes is ordered so that longer suffixes win over their tails
// (TAILSCALE_IP before IP).
var hostKeySuffixes = []string{
	"_TAILSCALE_IP",
	"_BACKUP_PATH",
	"_TAILSCALE",
	"_HOSTNAME",
	"_USER",
	"_PORT",
	"_IP",
}

func loadEnv(path string) (*Config, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseEnv(values)
}

func parseEnv(values map[string]string) (*Config, error) {
	cfg := &Config{
		Hosts: map[string]Host{},
		Image: values["BACKUP_IMAGE"],
		SSH: SSH{
			User:           values["SSH_USER"],
			KnownHostsFile: values["SSH_KNOWN_HOSTS"],
		},
	}
	if id := values["SSH_IDENTITY_FILE"]; id != "" {
		cfg.SSH.IdentityFiles = strings.Split(id, ",")
	}
	if v := values["SSH_INSECURE_IGNORE_HOST_KEY"]; v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SSH_INSECURE_IGNORE_HOST_KEY %q: %w", v, err)
		}
		cfg.SSH.InsecureIgnoreHostKey = insecure
	}

	tailscaleIPs := map[string]string{}
	for key, value := range values {
		if !strings.HasPrefix(key, "HOST_") || value == "" {
			continue
		}
		rest := strings.TrimPrefix(key, "HOST_")
		for _, suffix := range hostKeySuffixes {
			if !strings.HasSuffix(rest, suffix) || len(rest) == len(suffix) {
				continue
			}
			name := strings.ToLower(strings.TrimSuffix(rest, suffix))
			h := cfg.Hosts[name]
			switch suffix {
			case "_IP":
				h.IP = value
			case "_TAILSCALE_IP":
				tailscaleIPs[name] = value
			case "_TAILSCALE":
				h.SSHAlias = value
			case "_HOSTNAME":
				h.Hostname = value
			case "_BACKUP_PATH":
				h.BackupPath = value
			case "_USER":
				h.User = value
			case "_PORT":
				port, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("invalid %s %q: %w", key, value, err)
				}
				h.Port = port
			}
			h.format = formatEnv
			cfg.Hosts[name] = h
			break
		}
	}

	for name, ip := range tailscaleIPs {
		h := cfg.Hosts[name]
		if h.IP == "" {
			h.IP = ip
		}
		cfg.Hosts[name] = h
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type tomlHost struct {
	IP         string `toml:"ip"`
	SSHAlias   string `toml:"ssh_alias"`
	Hostname   string `toml:"hostname"`
	BackupPath string `toml:"backup_path"`
	User       string `toml:"user"`
	Port       int    `toml:"port"`
}

type tomlFile struct {
	Image string              `toml:"image"`
	SSH   SSH                 `toml:"ssh"`
	Hosts map[string]tomlHost `toml:"hosts"`
}

func loadTOML(path string) (*Config, error) {
	var file tomlFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fromTOML(file), nil
}

func decodeTOML(data string) (*Config, error) {
	var file tomlFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return fromTOML(file), nil
}

func fromTOML(file tomlFile) *Config {
	cfg := &Config{
		Image: file.Image,
		SSH:   file.SSH,
		Hosts: make(map[string]Host, len(file.Hosts)),
	}
	for name, h := range file.Hosts {
		name = strings.ToLower(name)
		cfg.Hosts[name] = Host{
			Name:       name,
			IP:         h.IP,
			SSHAlias:   h.SSHAlias,
			Hostname:   h.Hostname,
			BackupPath: h.BackupPath,
			User:       h.User,
			Port:       h.Port,
			format:     formatTOML,
		}
	}
	return cfg
}

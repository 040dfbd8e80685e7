// Package config loads rrockerd's on-disk configuration and merges it
// with command-line overrides. Config loading is an external
// collaborator: the daemon core neither knows nor cares where its
// settings came from, only that a Config struct is handed to it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's fully resolved runtime configuration.
type Config struct {
	// ListenAddr is the mTLS gRPC listen address, e.g. "0.0.0.0:7443".
	ListenAddr string `yaml:"listen_addr"`

	// RootDir is the pre-provisioned directory each isolated task
	// pivots into. It must exist and be writable by the daemon.
	RootDir string `yaml:"root_dir"`

	// CertDir holds node.crt, node.key, and ca.crt for mTLS.
	CertDir string `yaml:"cert_dir"`

	// MountCgroup2 enables the optional cgroup v2 mount step (§4.3.5).
	MountCgroup2 bool `yaml:"mount_cgroup2"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in defaults, overridden by whatever Load
// or the CLI flags supply afterward.
func Default() Config {
	return Config{
		ListenAddr:  "0.0.0.0:7443",
		RootDir:     "/var/rrockerd-root",
		CertDir:     "/etc/rrockerd/certs",
		MetricsAddr: "127.0.0.1:9090",
		LogLevel:    "info",
	}
}

// Load reads a YAML config file at path, starting from Default and
// overwriting only the fields present in the file. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

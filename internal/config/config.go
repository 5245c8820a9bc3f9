// Package config provides configuration management for Keymaster.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Home       string           `yaml:"home"`
	Gatekeeper GatekeeperConfig `yaml:"gatekeeper"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GatekeeperConfig defines registry client settings.
type GatekeeperConfig struct {
	// URL is the gatekeeper HTTP endpoint. Empty selects the in-process
	// local registry.
	URL string `yaml:"url"`

	// Registry names the target registry for new operations
	// (local, peerbit, BTC, tBTC).
	Registry string `yaml:"registry"`

	// TimeoutSeconds bounds each registry call.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RatePerSecond and Burst bound the request rate.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// LoadOrDefaults reads the config file under home, falling back to
// defaults when it does not exist, then applies environment overrides.
func LoadOrDefaults(home string) (*Config, error) {
	cfg := Defaults()
	cfg.Home = home

	path := Path(home)
	if _, err := os.Stat(path); err == nil {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if cfg.Home == "" {
			cfg.Home = home
		}
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// DefaultHome returns the default keymaster home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keymaster"
	}
	return filepath.Join(home, ".keymaster")
}

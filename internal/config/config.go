package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the API server and the CLI.
type Config struct {
	// Addr is the listen address of the control plane.
	Addr string `yaml:"addr"`
	// Database is the SQLite file holding build history.
	Database string `yaml:"database"`
	// StartupGrace is how long a launched service must stay up before the
	// launch counts as successful.
	StartupGrace time.Duration `yaml:"startup_grace"`
	// PullParent refreshes the base image on every build.
	PullParent bool   `yaml:"pull_parent"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:         ":3000",
		Database:     "lighthouse.db",
		StartupGrace: 3 * time.Second,
		PullParent:   true,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// LIGHTHOUSE_* environment overrides.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("LIGHTHOUSE_ADDR"); ok && v != "" {
		cfg.Addr = v
	}
	if v, ok := lookup("LIGHTHOUSE_DB"); ok && v != "" {
		cfg.Database = v
	}
	if v, ok := lookup("LIGHTHOUSE_STARTUP_GRACE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("LIGHTHOUSE_STARTUP_GRACE: %w", err)
		}
		cfg.StartupGrace = d
	}
	if v, ok := lookup("LIGHTHOUSE_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("LIGHTHOUSE_LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = v
	}
	if cfg.StartupGrace < 0 {
		return Config{}, fmt.Errorf("startup_grace must not be negative")
	}
	return cfg, nil
}

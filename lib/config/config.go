// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Courier commands.
//
// Configuration is loaded from a single file specified by:
//   - COURIER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides. The only expansion
// performed is ${VAR} and ${VAR:-default} in path values for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Courier.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver,
	// e.g. "https://matrix.example.org". Required.
	Homeserver string `yaml:"homeserver"`

	// SessionFile is where login sessions are persisted between runs.
	// Default: ${HOME}/.config/courier/session.json
	SessionFile string `yaml:"session_file"`

	// Sync configures the long-poll sync stream.
	Sync SyncConfig `yaml:"sync"`

	// Log configures diagnostic output.
	Log LogConfig `yaml:"log"`
}

// SyncConfig configures the long-poll sync stream.
type SyncConfig struct {
	// Timeout is the server-side long-poll hold time for each /sync
	// request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// RetryLimit is the number of consecutive transport failures the
	// stream absorbs before surfacing the error. Zero disables retries:
	// the first failure halts the stream. Default: 0.
	RetryLimit int `yaml:"retry_limit"`

	// RetryInterval is the pause between retry attempts.
	// Default: 1s.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// FilterFile is an optional path to a JSON (or JSONC) sync filter
	// definition sent inline with each /sync request.
	FilterFile string `yaml:"filter_file"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	// Level is the minimum slog level: debug, info, warn, error.
	// Default: info.
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are used as a
// base before loading the config file; the homeserver has no default and
// must come from the file or a flag.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		SessionFile: filepath.Join(homeDir, ".config", "courier", "session.json"),
		Sync: SyncConfig{
			Timeout:       30 * time.Second,
			RetryLimit:    0,
			RetryInterval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the COURIER_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks - if COURIER_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("COURIER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("COURIER_CONFIG environment variable not set; " +
			"set it to the path of your courier.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values; the only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.SessionFile = expandVars(c.SessionFile, vars)
	c.Sync.FilterFile = expandVars(c.Sync.FilterFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver == "" {
		errs = append(errs, fmt.Errorf("homeserver is required"))
	}

	if c.SessionFile == "" {
		errs = append(errs, fmt.Errorf("session_file is required"))
	}

	if c.Sync.Timeout < 0 {
		errs = append(errs, fmt.Errorf("sync.timeout must not be negative"))
	}
	if c.Sync.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("sync.retry_limit must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

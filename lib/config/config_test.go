// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Homeserver != "" {
		t.Errorf("expected no default homeserver, got %s", cfg.Homeserver)
	}

	if cfg.Sync.Timeout != 30*time.Second {
		t.Errorf("expected sync.timeout=30s, got %s", cfg.Sync.Timeout)
	}

	if cfg.Sync.RetryLimit != 0 {
		t.Errorf("expected sync.retry_limit=0, got %d", cfg.Sync.RetryLimit)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log.level=info, got %s", cfg.Log.Level)
	}
}

func TestLoad_RequiresCourierConfig(t *testing.T) {
	// Save and restore COURIER_CONFIG.
	origConfig := os.Getenv("COURIER_CONFIG")
	defer os.Setenv("COURIER_CONFIG", origConfig)

	os.Unsetenv("COURIER_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when COURIER_CONFIG not set, got nil")
	}

	if !strings.Contains(err.Error(), "COURIER_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithCourierConfig(t *testing.T) {
	origConfig := os.Getenv("COURIER_CONFIG")
	defer os.Setenv("COURIER_CONFIG", origConfig)

	configPath := filepath.Join(t.TempDir(), "courier.yaml")
	configContent := `
homeserver: https://matrix.example.org
session_file: /test/session.json
sync:
  timeout: 10s
  retry_limit: 3
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	os.Setenv("COURIER_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Homeserver != "https://matrix.example.org" {
		t.Errorf("expected homeserver=https://matrix.example.org, got %s", cfg.Homeserver)
	}
	if cfg.SessionFile != "/test/session.json" {
		t.Errorf("expected session_file=/test/session.json, got %s", cfg.SessionFile)
	}
	if cfg.Sync.Timeout != 10*time.Second {
		t.Errorf("expected sync.timeout=10s, got %s", cfg.Sync.Timeout)
	}
	if cfg.Sync.RetryLimit != 3 {
		t.Errorf("expected sync.retry_limit=3, got %d", cfg.Sync.RetryLimit)
	}

	// Unset fields keep defaults.
	if cfg.Sync.RetryInterval != time.Second {
		t.Errorf("expected default sync.retry_interval=1s, got %s", cfg.Sync.RetryInterval)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("HOME", "/home/amy")
	t.Setenv("COURIER_RUN", "/run/courier")

	configPath := filepath.Join(t.TempDir(), "courier.yaml")
	configContent := `
homeserver: https://matrix.example.org
session_file: ${HOME}/.config/courier/session.json
sync:
  filter_file: ${COURIER_RUN:-/tmp}/filter.json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.SessionFile != "/home/amy/.config/courier/session.json" {
		t.Errorf("expected ${HOME} expansion, got %s", cfg.SessionFile)
	}
	if cfg.Sync.FilterFile != "/run/courier/filter.json" {
		t.Errorf("expected ${COURIER_RUN} expansion, got %s", cfg.Sync.FilterFile)
	}
}

func TestLoadFile_DefaultExpansion(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "courier.yaml")
	configContent := `
homeserver: https://matrix.example.org
sync:
  filter_file: ${COURIER_UNSET_VARIABLE:-/etc/courier}/filter.json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Sync.FilterFile != "/etc/courier/filter.json" {
		t.Errorf("expected default expansion, got %s", cfg.Sync.FilterFile)
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := Default()
		cfg.Homeserver = "https://matrix.example.org"
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	t.Run("missing homeserver", func(t *testing.T) {
		cfg := Default()
		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error for missing homeserver")
		}
		if !strings.Contains(err.Error(), "homeserver is required") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := Default()
		cfg.Homeserver = "https://matrix.example.org"
		cfg.Log.Level = "verbose"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for invalid log level")
		}
	})

	t.Run("negative retry limit", func(t *testing.T) {
		cfg := Default()
		cfg.Homeserver = "https://matrix.example.org"
		cfg.Sync.RetryLimit = -1
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for negative retry limit")
		}
	})
}

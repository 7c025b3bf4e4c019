// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Relay.URL == "" {
		t.Error("expected a default relay URL")
	}
	if cfg.Paths.Socket == "" || cfg.Paths.Store == "" {
		t.Errorf("expected default paths, got %+v", cfg.Paths)
	}
	if cfg.Device.Label == "" {
		t.Error("expected a default device label")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv("CONSTITUTE_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.URL != Default().Relay.URL {
		t.Errorf("expected default relay URL, got %s", cfg.Relay.URL)
	}
}

func TestLoadWithEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "constitute.yaml")

	configContent := `
relay:
  url: ws://localhost:7777
device:
  label: test-device
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CONSTITUTE_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.URL != "ws://localhost:7777" {
		t.Errorf("relay url = %s, want ws://localhost:7777", cfg.Relay.URL)
	}
	if cfg.Device.Label != "test-device" {
		t.Errorf("device label = %s, want test-device", cfg.Device.Label)
	}
	if level, err := cfg.LogLevel(); err != nil || level != slog.LevelDebug {
		t.Errorf("log level = %v (%v), want debug", level, err)
	}
	// Unset fields keep their defaults.
	if cfg.Paths.Store != Default().Paths.Store {
		t.Errorf("store path = %s, want default", cfg.Paths.Store)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "constitute.yaml")

	configContent := `
paths:
  root: /srv/constitute
  socket: ${CONSTITUTE_ROOT}/run/daemon.sock
  store: ${CONSTITUTE_ROOT}/db/constitute.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Socket != "/srv/constitute/run/daemon.sock" {
		t.Errorf("socket = %s, want expanded root", cfg.Paths.Socket)
	}
	if cfg.Paths.Store != "/srv/constitute/db/constitute.db" {
		t.Errorf("store = %s, want expanded root", cfg.Paths.Store)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/constitute.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "log.level") {
		t.Errorf("error does not name log.level: %v", err)
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Default()
	cfg.Paths.Root = filepath.Join(tmpDir, "root")
	cfg.Paths.Socket = filepath.Join(tmpDir, "run", "daemon.sock")
	cfg.Paths.Store = filepath.Join(tmpDir, "db", "constitute.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.Root, filepath.Dir(cfg.Paths.Socket), filepath.Dir(cfg.Paths.Store)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s missing after EnsurePaths", dir)
		}
	}
}

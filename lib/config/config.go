// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Flag values layered on top by
// the command take precedence over anything loaded from a file.
type Config struct {
	// Paths configures filesystem locations.
	Paths PathsConfig `yaml:"paths"`

	// Relay configures the broadcast relay connection.
	Relay RelayConfig `yaml:"relay"`

	// Device configures how this device presents itself.
	Device DeviceConfig `yaml:"device"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// Root is the base directory for constitute data.
	Root string `yaml:"root"`

	// Socket is the unix control socket path.
	Socket string `yaml:"socket"`

	// Store is the sqlite database path.
	Store string `yaml:"store"`
}

// RelayConfig configures the relay connection.
type RelayConfig struct {
	// URL is the relay websocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`
}

// DeviceConfig configures device presentation.
type DeviceConfig struct {
	// Label names the device on first run. Existing devices keep their
	// stored label.
	Label string `yaml:"label"`

	// PeerHint is the opaque address advertised in discovery records
	// for the direct peer transport.
	PeerHint string `yaml:"peer_hint"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are a base
// for file and flag values, so every field has a usable zero state.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "constitute")

	label, err := os.Hostname()
	if err != nil || label == "" {
		label = "device"
	}

	return &Config{
		Paths: PathsConfig{
			Root:   defaultRoot,
			Socket: filepath.Join(defaultRoot, "daemon.sock"),
			Store:  filepath.Join(defaultRoot, "constitute.db"),
		},
		Relay: RelayConfig{
			URL: "wss://relay.constitute.network",
		},
		Device: DeviceConfig{
			Label: label,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the CONSTITUTE_CONFIG environment
// variable. If the variable is not set, the defaults are returned; a
// set variable that points at an unreadable file is an error.
func Load() (*Config, error) {
	configPath := os.Getenv("CONSTITUTE_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults. The only expansion performed is ${HOME} and
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

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"CONSTITUTE_ROOT": c.Paths.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["CONSTITUTE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Paths.Store = expandVars(c.Paths.Store, vars)
}

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

	if c.Paths.Socket == "" {
		errs = append(errs, fmt.Errorf("paths.socket is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}
	if c.Relay.URL == "" {
		errs = append(errs, fmt.Errorf("relay.url is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel parses Log.Level into a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
}

// EnsurePaths creates the directories the configured paths live in.
func (c *Config) EnsurePaths() error {
	dirs := []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.Socket),
		filepath.Dir(c.Paths.Store),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Package config provides TOML configuration file loading and parsing for the
// dock client. The configuration file lives at ~/.taskdock/config.toml by
// default, but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the dock configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// ServerURL is the base URL of the task server.
	// Default: http://127.0.0.1:7070
	ServerURL string `toml:"server_url"`

	// AutoReconnect enables automatic reconnection with backoff after a
	// transient connection loss. When false, reconnection is manual.
	// Default: false
	AutoReconnect bool `toml:"auto_reconnect"`

	// Cache enables the on-disk credential cache. When false, a login is
	// required on every start and nothing is persisted.
	// Default: true (set in WriteDefault; zero value is false for --nocache)
	Cache bool `toml:"cache"`

	// LogFile is the path for log output. Empty means stderr.
	LogFile string `toml:"log_file"`

	// LoginDurationMs is the requested api key lifetime in milliseconds.
	// Default: 0, which lets the server pick.
	LoginDurationMs int64 `toml:"login_duration_ms"`
}

// DefaultConfigPath returns the default config file location: ~/.taskdock/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".taskdock", "config.toml"), nil
}

// WriteDefault creates a config file with defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, serverURL string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Using raw string to control formatting exactly
	content := fmt.Sprintf(`# taskdock configuration

# Task server base URL
server_url = %q

# Keep credentials cached between runs
cache = true

# Reconnect automatically after a transient connection loss
auto_reconnect = false
`, serverURL)

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.taskdock/config.toml). Returns a Config with defaults without error
//     if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{Cache: true}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the dock to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return defaults
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrCreate loads the config from the default location, writing a default
// file first if none exists. Used by the run subcommand so a fresh machine
// ends up with an editable config on disk.
func LoadOrCreate() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	if err := WriteDefault(path, DefaultServerURL); err != nil {
		return nil, err
	}
	return Load(path)
}

// Validate checks config values for basic sanity.
func (c *Config) Validate() error {
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server_url %q is not a valid URL", c.ServerURL)
		}
	}
	if c.LoginDurationMs < 0 {
		return fmt.Errorf("login_duration_ms must be >= 0, got %d", c.LoginDurationMs)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.zapboard/config.toml.
type Config struct {
	// ServerURL is the WebSocket endpoint of the bot process.
	ServerURL string `toml:"server_url"`
	// APIBaseURL is the base URL of the bot's REST API.
	APIBaseURL string `toml:"api_base_url"`
	// LogLevelFilter is the persisted log stream level preference
	// ("all", "debug", "info", "warn", "error").
	LogLevelFilter string `toml:"log_level_filter"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		ServerURL:      "ws://127.0.0.1:3001/ws",
		APIBaseURL:     "http://127.0.0.1:3001/api",
		LogLevelFilter: "all",
	}
}

// Dir returns the zapboard home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zapboard")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(Dir(), "zapboardd.log")
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevelFilter == "" {
		cfg.LogLevelFilter = "all"
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPollIntervalMs is the poll cadence when config does not set one.
// The cadence is fixed: it never shrinks or grows on fetch failures.
const DefaultPollIntervalMs = 5000

// Config represents the global ~/.pazar/config.toml.
type Config struct {
	ServerURL      string `toml:"server_url"`
	PollIntervalMs int    `toml:"poll_interval_ms"`
	DefaultSession string `toml:"default_session"`
}

// PollInterval returns the configured cadence as a duration, falling back to
// the default when unset or nonsensical.
func (c *Config) PollInterval() time.Duration {
	ms := c.PollIntervalMs
	if ms <= 0 {
		ms = DefaultPollIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Load reads config from the given path. Returns an error if the file is
// missing; callers treat that as "use defaults".
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
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

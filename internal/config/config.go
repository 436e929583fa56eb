package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for the reconnect policy when config.toml leaves them unset.
const (
	DefaultReconnectBaseDelayMS = 1000
	DefaultReconnectMaxAttempts = 5
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	ServerURL            string `toml:"server_url"`
	AuthToken            string `toml:"auth_token"`
	DefaultUser          string `toml:"default_user"`
	ReconnectBaseDelayMS int    `toml:"reconnect_base_delay_ms"`
	ReconnectMaxAttempts int    `toml:"reconnect_max_attempts"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
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

// ReconnectBaseDelay returns the reconnect base delay as a duration.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMS) * time.Millisecond
}

func (c *Config) applyDefaults() {
	if c.ReconnectBaseDelayMS <= 0 {
		c.ReconnectBaseDelayMS = DefaultReconnectBaseDelayMS
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
}

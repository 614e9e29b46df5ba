package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when the config file or a field is absent.
const (
	DefaultServerURL       = "http://localhost:8080"
	DefaultChannelURL      = "ws://localhost:8080/ws"
	DefaultRefreshInterval = 30 * time.Second
	DefaultTypingIdle      = 2 * time.Second
)

// Config represents the global ~/.talkd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	ServerURL      string `toml:"server_url"`
	ChannelURL     string `toml:"channel_url"`
	Token          string `toml:"token"`

	// UserID identifies the account the daemon syncs for. Optional when the
	// token is a JWT; the subject claim is used then.
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`

	// RefreshIntervalSec is the periodic full-resync interval. The resync is
	// a consistency backstop against missed push events, not the primary
	// delivery mechanism.
	RefreshIntervalSec int `toml:"refresh_interval_sec"`

	// TypingIdleSec is how long after the last local keystroke a
	// typing=false notification is sent.
	TypingIdleSec int `toml:"typing_idle_sec"`
}

// Load reads config from the given path, fills defaults, and applies
// TALKD_* environment overrides. A missing file is not an error; the
// environment alone can configure a session.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TALKD_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("TALKD_CHANNEL_URL"); v != "" {
		c.ChannelURL = v
	}
	if v := os.Getenv("TALKD_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("TALKD_SESSION"); v != "" {
		c.DefaultSession = v
	}
	if v := os.Getenv("TALKD_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("TALKD_DISPLAY_NAME"); v != "" {
		c.DisplayName = v
	}
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.ChannelURL == "" {
		c.ChannelURL = DefaultChannelURL
	}
	if c.RefreshIntervalSec <= 0 {
		c.RefreshIntervalSec = int(DefaultRefreshInterval / time.Second)
	}
	if c.TypingIdleSec <= 0 {
		c.TypingIdleSec = int(DefaultTypingIdle / time.Second)
	}
}

// RefreshInterval returns the resync interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// TypingIdle returns the typing idle timeout as a duration.
func (c *Config) TypingIdle() time.Duration {
	return time.Duration(c.TypingIdleSec) * time.Second
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

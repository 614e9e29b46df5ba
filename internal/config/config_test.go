package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("server_url = %q, want default", cfg.ServerURL)
	}
	if cfg.RefreshInterval() != DefaultRefreshInterval {
		t.Errorf("refresh = %v, want %v", cfg.RefreshInterval(), DefaultRefreshInterval)
	}
	if cfg.TypingIdle() != DefaultTypingIdle {
		t.Errorf("typing idle = %v, want %v", cfg.TypingIdle(), DefaultTypingIdle)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	want := &Config{
		DefaultSession:     "work",
		ServerURL:          "https://chat.example.com",
		ChannelURL:         "wss://chat.example.com/ws",
		Token:              "tok",
		RefreshIntervalSec: 15,
		TypingIdleSec:      3,
	}
	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultSession != "work" || got.ServerURL != want.ServerURL || got.Token != "tok" {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.RefreshInterval() != 15*time.Second {
		t.Errorf("refresh = %v, want 15s", got.RefreshInterval())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TALKD_SERVER_URL", "https://override.example.com")
	t.Setenv("TALKD_TOKEN", "env-tok")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{ServerURL: "https://file.example.com", Token: "file-tok"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "https://override.example.com" {
		t.Errorf("server_url = %q, want env override", cfg.ServerURL)
	}
	if cfg.Token != "env-tok" {
		t.Errorf("token = %q, want env override", cfg.Token)
	}
}

func TestSaveCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "config.toml")
	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

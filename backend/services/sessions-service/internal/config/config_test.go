package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSIONS_POSTGRES_DSN", "postgres://localhost/vac")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddress() != ":8082" {
		t.Fatalf("unexpected address %s", cfg.HTTPAddress())
	}
	if cfg.Sessions.DefaultRate != 100 || cfg.Sessions.MaxMinutes != 120 || !cfg.Sweeper.Enabled {
		t.Fatalf("defaults not applied: %+v", cfg.Sessions)
	}
	if cfg.Sessions.RejectWindow != time.Minute {
		t.Fatalf("unexpected reject window %s", cfg.Sessions.RejectWindow)
	}
	if cfg.ActiveSessionTTL() != 5*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.ActiveSessionTTL())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSIONS_POSTGRES_DSN", "postgres://localhost/vac")
	t.Setenv("SESSIONS_DEFAULT_RATE", "250")
	t.Setenv("SESSIONS_SWEEPER_STALE_AFTER", "5m")
	t.Setenv("SESSIONS_SWEEPER_ENABLED", "false")
	t.Setenv("SESSIONS_REJECT_WINDOW", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sessions.DefaultRate != 250 || cfg.Sweeper.StaleAfter != 5*time.Minute || cfg.Sweeper.Enabled || cfg.Sessions.RejectWindow != 90*time.Second {
		t.Fatalf("env not applied: %+v %+v", cfg.Sessions, cfg.Sweeper)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSIONS_POSTGRES_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing dsn to fail")
	}
}

func TestLoadRejectsZeroSweepInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	body := []byte("database:\n  dsn: postgres://file/vac\nsweeper:\n  enabled: true\n  interval: 0s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected zero interval to fail")
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	libconfig "vacstation/backend/libs/config"
	"vacstation/backend/libs/retry"
)

// Config defines sessions service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"SESSIONS_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN          string `yaml:"dsn" env:"SESSIONS_POSTGRES_DSN" required:"true"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"SESSIONS_POSTGRES_MAX_OPEN_CONNS"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"SESSIONS_REDIS_ADDR" required:"true"`
		Password string `yaml:"password" env:"SESSIONS_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"SESSIONS_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"SESSIONS_REDIS_TTL"`
	} `yaml:"redis"`
	Sessions struct {
		DefaultRate     int64         `yaml:"default_rate_per_minute" env:"SESSIONS_DEFAULT_RATE"`
		MaxMinutes      int           `yaml:"max_minutes" env:"SESSIONS_MAX_MINUTES"`
		ListenForEvents bool          `yaml:"listen_for_events" env:"SESSIONS_LISTEN_EVENTS"`
		RejectWindow    time.Duration `yaml:"reject_window" env:"SESSIONS_REJECT_WINDOW"`
	} `yaml:"sessions"`
	Sweeper struct {
		Enabled    bool          `yaml:"enabled" env:"SESSIONS_SWEEPER_ENABLED"`
		Interval   time.Duration `yaml:"interval" env:"SESSIONS_SWEEPER_INTERVAL"`
		StaleAfter time.Duration `yaml:"stale_after" env:"SESSIONS_SWEEPER_STALE_AFTER"`
	} `yaml:"sweeper"`
	Ledger struct {
		MaxRetries int           `yaml:"max_retries" env:"LEDGER_MAX_RETRIES"`
		BaseDelay  time.Duration `yaml:"base_delay" env:"LEDGER_RETRY_BASE_DELAY"`
		MaxDelay   time.Duration `yaml:"max_delay" env:"LEDGER_RETRY_MAX_DELAY"`
	} `yaml:"ledger"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8082"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 300
	cfg.Sessions.DefaultRate = 100
	cfg.Sessions.MaxMinutes = 120
	cfg.Sessions.ListenForEvents = true
	cfg.Sessions.RejectWindow = time.Minute
	cfg.Sweeper.Enabled = true
	cfg.Sweeper.Interval = time.Minute
	cfg.Sweeper.StaleAfter = 2 * time.Minute
	defaults := retry.DefaultConfig()
	cfg.Ledger.MaxRetries = defaults.MaxRetries
	cfg.Ledger.BaseDelay = defaults.BaseDelay
	cfg.Ledger.MaxDelay = defaults.MaxDelay

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Sweeper.Enabled && (cfg.Sweeper.Interval <= 0 || cfg.Sweeper.StaleAfter <= 0) {
		return nil, fmt.Errorf("config: sweeper interval and stale_after must be positive")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8082"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ActiveSessionTTL is how long a cache entry outlives its reservation.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.TTL) * time.Second
}

// LedgerRetry returns the contention retry budget.
func (c *Config) LedgerRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.Ledger.MaxRetries
	cfg.BaseDelay = c.Ledger.BaseDelay
	cfg.MaxDelay = c.Ledger.MaxDelay
	return cfg
}

package config

import (
	"fmt"
	"strings"
	"time"

	libconfig "vacstation/backend/libs/config"
	"vacstation/backend/libs/retry"
)

// Config defines billing service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"BILLING_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN          string `yaml:"dsn" env:"BILLING_POSTGRES_DSN" required:"true"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"BILLING_POSTGRES_MAX_OPEN_CONNS"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`
	MercadoPago struct {
		BaseURL         string        `yaml:"base_url" env:"MERCADOPAGO_BASE_URL"`
		AccessToken     string        `yaml:"access_token" env:"MERCADOPAGO_ACCESS_TOKEN" required:"true"`
		NotificationURL string        `yaml:"notification_url" env:"MERCADOPAGO_NOTIFICATION_URL"`
		SuccessURL      string        `yaml:"success_url" env:"MERCADOPAGO_SUCCESS_URL"`
		FailureURL      string        `yaml:"failure_url" env:"MERCADOPAGO_FAILURE_URL"`
		Currency        string        `yaml:"currency" env:"MERCADOPAGO_CURRENCY"`
		Timeout         time.Duration `yaml:"timeout" env:"MERCADOPAGO_TIMEOUT"`
	} `yaml:"mercadopago"`
	Webhook struct {
		Secret    string        `yaml:"secret" env:"MERCADOPAGO_WEBHOOK_SECRET"`
		Tolerance time.Duration `yaml:"tolerance" env:"MERCADOPAGO_WEBHOOK_TOLERANCE"`
	} `yaml:"webhook"`
	Ledger struct {
		MaxRetries int           `yaml:"max_retries" env:"LEDGER_MAX_RETRIES"`
		BaseDelay  time.Duration `yaml:"base_delay" env:"LEDGER_RETRY_BASE_DELAY"`
		MaxDelay   time.Duration `yaml:"max_delay" env:"LEDGER_RETRY_MAX_DELAY"`
	} `yaml:"ledger"`
	TopUp struct {
		MaxAmount int64 `yaml:"max_amount" env:"BILLING_TOPUP_MAX_AMOUNT"`
	} `yaml:"topup"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8083"
	cfg.Redis.Addr = "localhost:6379"
	cfg.MercadoPago.Currency = "BRL"
	cfg.MercadoPago.Timeout = 5 * time.Second
	cfg.Webhook.Tolerance = 5 * time.Minute
	defaults := retry.DefaultConfig()
	cfg.Ledger.MaxRetries = defaults.MaxRetries
	cfg.Ledger.BaseDelay = defaults.BaseDelay
	cfg.Ledger.MaxDelay = defaults.MaxDelay
	cfg.TopUp.MaxAmount = 500_000

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8083"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// LedgerRetry returns the contention retry budget.
func (c *Config) LedgerRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.Ledger.MaxRetries
	cfg.BaseDelay = c.Ledger.BaseDelay
	cfg.MaxDelay = c.Ledger.MaxDelay
	return cfg
}

package config

import (
	"fmt"
	"strings"
	"time"

	libconfig "vacstation/backend/libs/config"
)

// Config defines gateway configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"API_GATEWAY_HTTP_PORT"`
	} `yaml:"http"`
	JWT struct {
		Secret string `yaml:"secret" env:"API_GATEWAY_JWT_SECRET" required:"true"`
	} `yaml:"jwt"`
	Services struct {
		SessionsURL string `yaml:"sessionsUrl" env:"SESSIONS_SERVICE_URL" required:"true"`
		BillingURL  string `yaml:"billingUrl" env:"BILLING_SERVICE_URL" required:"true"`
	} `yaml:"services"`
	HTTPClient struct {
		TimeoutSeconds int `yaml:"timeoutSeconds" env:"API_GATEWAY_HTTP_TIMEOUT"`
	} `yaml:"httpClient"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`
	Stream struct {
		PingInterval   time.Duration `yaml:"pingInterval" env:"API_GATEWAY_STREAM_PING_INTERVAL"`
		AllowedOrigins []string      `yaml:"allowedOrigins" env:"API_GATEWAY_STREAM_ALLOWED_ORIGINS"`
	} `yaml:"stream"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.HTTPClient.TimeoutSeconds = 5
	cfg.Redis.Addr = "localhost:6379"
	cfg.Stream.PingInterval = 30 * time.Second

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// HTTPTimeout returns http client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPClient.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.HTTPClient.TimeoutSeconds) * time.Second
}

// PingInterval returns the balance stream keepalive period.
func (c *Config) PingInterval() time.Duration {
	if c.Stream.PingInterval <= 0 {
		return 30 * time.Second
	}
	return c.Stream.PingInterval
}

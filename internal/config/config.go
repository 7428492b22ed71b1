// Package config содержит логику чтения конфигурации сервиса наград.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса наград.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	WebhookAddress string `env:"WEBHOOK_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	AuthSecret     string `env:"AUTH_SECRET"`
	CatalogPath    string `env:"CATALOG_PATH"`

	PublicURL           string `env:"PUBLIC_URL" envDefault:"http://localhost:5173"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	Timezone         string   `env:"TIMEZONE" envDefault:"UTC"`
	TestModeAccounts []string `env:"TEST_MODE_ACCOUNTS" envSeparator:","`

	PaymentPollInterval time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"5s"`
	PaymentPollWindow   time.Duration `env:"PAYMENT_POLL_WINDOW" envDefault:"5m"`

	WebhookLogDir      string `env:"WEBHOOK_LOG_DIR" envDefault:"stripe-webhook-logs"`
	AuditArchiveBucket string `env:"AUDIT_ARCHIVE_BUCKET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envWebhookAddress := cfg.WebhookAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envCatalogPath := cfg.CatalogPath

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP API server")
	flag.StringVar(&cfg.WebhookAddress, "w", "localhost:3001", "address and port for payment webhook receiver")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "session signing secret")
	flag.StringVar(&cfg.CatalogPath, "c", "", "path to TOML reward catalog")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envWebhookAddress != "" {
		cfg.WebhookAddress = envWebhookAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envCatalogPath != "" {
		cfg.CatalogPath = envCatalogPath
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.WebhookAddress == "" {
		cfg.WebhookAddress = "localhost:3001"
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.PaymentPollInterval <= 0 || cfg.PaymentPollWindow < cfg.PaymentPollInterval {
		return nil, fmt.Errorf("invalid payment poll settings: interval %s, window %s",
			cfg.PaymentPollInterval, cfg.PaymentPollWindow)
	}

	return cfg, nil
}

// Location возвращает часовой пояс по умолчанию для расчёта календарного дня.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

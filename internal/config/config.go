// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Billing (Stripe)
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripePriceStarter    string // price IDs for paid plans
	StripePriceGrowth     string
	StripePriceEnterprise string

	// Model retraining
	RetrainInterval time.Duration

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing off if not set)
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultRateLimit       = 100
	DefaultRetrainInterval = 24 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceStarter:    os.Getenv("STRIPE_PRICE_STARTER"),
		StripePriceGrowth:     os.Getenv("STRIPE_PRICE_GROWTH"),
		StripePriceEnterprise: os.Getenv("STRIPE_PRICE_ENTERPRISE"),
		RetrainInterval:       getEnvDuration("RETRAIN_INTERVAL", DefaultRetrainInterval),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:          int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RetrainInterval < time.Second {
		return fmt.Errorf("RETRAIN_INTERVAL must be at least 1s")
	}

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
	}

	// Billing is optional, but a webhook secret without an API key is a
	// misconfiguration.
	if c.StripeWebhookSecret != "" && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required when STRIPE_WEBHOOK_SECRET is set")
	}

	return nil
}

// BillingEnabled returns true when Stripe credentials are configured
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

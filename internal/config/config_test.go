package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "PORT", "")
	setEnv(t, "STRIPE_SECRET_KEY", "")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
	assert.Equal(t, DefaultRetrainInterval, cfg.RetrainInterval)
	assert.False(t, cfg.BillingEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "staging")
	setEnv(t, "RATE_LIMIT_RPS", "250")
	setEnv(t, "RETRAIN_INTERVAL", "30m")
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 250, cfg.RateLimitRPS)
	assert.Equal(t, 30*time.Minute, cfg.RetrainInterval)
	assert.True(t, cfg.BillingEnabled())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "development without database",
			config: Config{Env: "development", RetrainInterval: time.Hour},
		},
		{
			name:    "production requires database",
			config:  Config{Env: "production", AdminSecret: "s3cret", RetrainInterval: time.Hour},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "production requires admin secret",
			config:  Config{Env: "production", DatabaseURL: "postgres://localhost/cartpulse", RetrainInterval: time.Hour},
			wantErr: "ADMIN_SECRET is required",
		},
		{
			name:    "webhook secret without api key",
			config:  Config{Env: "development", StripeWebhookSecret: "whsec_x", RetrainInterval: time.Hour},
			wantErr: "STRIPE_SECRET_KEY is required",
		},
		{
			name:    "retrain interval too small",
			config:  Config{Env: "development", RetrainInterval: 100 * time.Millisecond},
			wantErr: "RETRAIN_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "CARTPULSE_TEST_KEY", "value")
	assert.Equal(t, "value", getEnv("CARTPULSE_TEST_KEY", "default"))
	assert.Equal(t, "default", getEnv("CARTPULSE_TEST_MISSING", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "CARTPULSE_TEST_INT", "42")
	assert.Equal(t, int64(42), getEnvInt64("CARTPULSE_TEST_INT", 7))

	setEnv(t, "CARTPULSE_TEST_INT", "not-a-number")
	assert.Equal(t, int64(7), getEnvInt64("CARTPULSE_TEST_INT", 7))
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "CARTPULSE_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("CARTPULSE_TEST_DUR", time.Hour))

	setEnv(t, "CARTPULSE_TEST_DUR", "nope")
	assert.Equal(t, time.Hour, getEnvDuration("CARTPULSE_TEST_DUR", time.Hour))
}

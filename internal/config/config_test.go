package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "STRIPE_API_KEY", "STRIPE_TOKENS_PER_CENT",
		"DEFAULT_REGION", "SIGNAL_QUEUE_SIZE", "SCORE_LOOKBACK_DAYS",
		"SIGNAL_RETENTION_DAYS", "SWEEP_BATCH_SIZE", "RECOMPUTE_INTERVAL",
		"EXPIRY_INTERVAL", "CLEANUP_INTERVAL", "ADMIN_SECRET", "RATE_LIMIT_RPS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "global", cfg.DefaultRegion)
	assert.Equal(t, 1024, cfg.SignalQueueSize)
	assert.Equal(t, 90, cfg.ScoreLookbackDays)
	assert.Equal(t, 365, cfg.RetentionDays)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, time.Hour, cfg.RecomputeInterval)
	assert.Equal(t, 6*time.Hour, cfg.ExpiryInterval)
	assert.Equal(t, 24*time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/riskcore")
	t.Setenv("DEFAULT_REGION", "br")
	t.Setenv("SCORE_LOOKBACK_DAYS", "30")
	t.Setenv("SIGNAL_RETENTION_DAYS", "60")
	t.Setenv("RECOMPUTE_INTERVAL", "15m")
	t.Setenv("ADMIN_SECRET", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://localhost/riskcore", cfg.DatabaseURL)
	assert.Equal(t, "br", cfg.DefaultRegion)
	assert.Equal(t, 30, cfg.ScoreLookbackDays)
	assert.Equal(t, 60, cfg.RetentionDays)
	assert.Equal(t, 15*time.Minute, cfg.RecomputeInterval)
	assert.Equal(t, "hunter2", cfg.AdminSecret)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNAL_QUEUE_SIZE", "not-a-number")
	t.Setenv("RECOMPUTE_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.SignalQueueSize)
	assert.Equal(t, time.Hour, cfg.RecomputeInterval)
}

func TestLookbackAndRetentionDurations(t *testing.T) {
	cfg := &Config{ScoreLookbackDays: 90, RetentionDays: 365}
	assert.Equal(t, 90*24*time.Hour, cfg.Lookback())
	assert.Equal(t, 365*24*time.Hour, cfg.Retention())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			SignalQueueSize:   1024,
			ScoreLookbackDays: 90,
			RetentionDays:     365,
			SweepBatchSize:    100,
			RecomputeInterval: time.Hour,
			ExpiryInterval:    6 * time.Hour,
			CleanupInterval:   24 * time.Hour,
		}
	}

	assert.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queue size", func(c *Config) { c.SignalQueueSize = 0 }},
		{"zero lookback", func(c *Config) { c.ScoreLookbackDays = 0 }},
		{"retention shorter than lookback", func(c *Config) { c.RetentionDays = 30 }},
		{"zero batch size", func(c *Config) { c.SweepBatchSize = 0 }},
		{"zero recompute interval", func(c *Config) { c.RecomputeInterval = 0 }},
		{"negative cleanup interval", func(c *Config) { c.CleanupInterval = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

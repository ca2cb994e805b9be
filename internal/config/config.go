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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Stripe (optional; chargeback stats come from the recorder if not set)
	StripeAPIKey        string
	StripeTokensPerCent float64 // converts charge amounts to platform tokens

	// Risk pipeline
	DefaultRegion     string
	SignalQueueSize   int
	ScoreLookbackDays int
	RetentionDays     int
	SweepBatchSize    int
	RecomputeInterval time.Duration
	ExpiryInterval    time.Duration
	CleanupInterval   time.Duration

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultRegion            = "global"
	DefaultSignalQueueSize   = 1024
	DefaultScoreLookbackDays = 90
	DefaultRetentionDays     = 365
	DefaultSweepBatchSize    = 100
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeTokensPerCent: getEnvFloat("STRIPE_TOKENS_PER_CENT", 1),
		DefaultRegion:       getEnv("DEFAULT_REGION", DefaultRegion),
		SignalQueueSize:     int(getEnvInt64("SIGNAL_QUEUE_SIZE", DefaultSignalQueueSize)),
		ScoreLookbackDays:   int(getEnvInt64("SCORE_LOOKBACK_DAYS", DefaultScoreLookbackDays)),
		RetentionDays:       int(getEnvInt64("SIGNAL_RETENTION_DAYS", DefaultRetentionDays)),
		SweepBatchSize:      int(getEnvInt64("SWEEP_BATCH_SIZE", DefaultSweepBatchSize)),
		RecomputeInterval:   getEnvDuration("RECOMPUTE_INTERVAL", time.Hour),
		ExpiryInterval:      getEnvDuration("EXPIRY_INTERVAL", 6*time.Hour),
		CleanupInterval:     getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SignalQueueSize <= 0 {
		return fmt.Errorf("SIGNAL_QUEUE_SIZE must be positive")
	}
	if c.ScoreLookbackDays <= 0 {
		return fmt.Errorf("SCORE_LOOKBACK_DAYS must be positive")
	}
	if c.RetentionDays < c.ScoreLookbackDays {
		return fmt.Errorf("SIGNAL_RETENTION_DAYS must be at least SCORE_LOOKBACK_DAYS")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.RecomputeInterval <= 0 || c.ExpiryInterval <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Lookback returns the score aggregation window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.ScoreLookbackDays) * 24 * time.Hour
}

// Retention returns the signal retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	AutoMigrate bool

	// Genesis settings. Only Owner is checked against persisted state on
	// restart; the limits seed a fresh store.
	OwnerAddress          string
	MaxTransactionAmount  uint64
	DailyLimit            uint64
	FraudDetectionEnabled bool

	// Tracing
	OTLPEndpoint string

	// Operational
	RateLimitRPM      int
	StatsInterval     time.Duration
	ReconcileInterval time.Duration
	ShutdownTimeout   time.Duration
}

const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultMaxTransactionAmount = 1_000_000
	DefaultDailyLimit           = 10_000_000
	DefaultRateLimitRPM         = 600
	DefaultStatsInterval        = 15 * time.Second
	DefaultReconcileInterval    = 5 * time.Minute
	DefaultShutdownTimeout      = 30 * time.Second
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
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AutoMigrate:           getEnvBool("AUTO_MIGRATE", false),
		OwnerAddress:          os.Getenv("OWNER_ADDRESS"), // Required, no default
		MaxTransactionAmount:  getEnvUint64("MAX_TRANSACTION_AMOUNT", DefaultMaxTransactionAmount),
		DailyLimit:            getEnvUint64("DAILY_LIMIT", DefaultDailyLimit),
		FraudDetectionEnabled: getEnvBool("FRAUD_DETECTION_ENABLED", true),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:          int(getEnvUint64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		StatsInterval:         getEnvDuration("STATS_INTERVAL", DefaultStatsInterval),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		ShutdownTimeout:       getEnvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OwnerAddress == "" {
		return fmt.Errorf("OWNER_ADDRESS is required")
	}
	if !validation.IsValidAddress(c.OwnerAddress) {
		return fmt.Errorf("OWNER_ADDRESS must be a 0x-prefixed 20-byte hex address")
	}
	if c.MaxTransactionAmount == 0 {
		return fmt.Errorf("MAX_TRANSACTION_AMOUNT must be positive")
	}
	if c.DailyLimit == 0 {
		return fmt.Errorf("DAILY_LIMIT must be positive")
	}
	return nil
}

// Genesis returns the settings a fresh store is initialized with.
func (c *Config) Genesis() state.Settings {
	return state.Settings{
		Owner:                 state.Principal(validation.NormalizeAddress(c.OwnerAddress)),
		FraudDetectionEnabled: c.FraudDetectionEnabled,
		MaxTransactionAmount:  c.MaxTransactionAmount,
		DailyLimit:            c.DailyLimit,
	}
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

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

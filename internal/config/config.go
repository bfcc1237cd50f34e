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

	// Decision oracle
	OracleURL         string
	OracleAPIKey      string
	OracleTimeout     time.Duration
	OracleMaxAttempts int

	// Result signing
	SigningSecret string // HMAC key for sealing validation results

	// Vendor profiling
	ProfilingEnabled bool

	// Security
	RateLimitRPM   int
	AllowedOrigins string // comma-separated, "*" allows all

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint, empty disables tracing
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultOracleTimeout     = 30 * time.Second
	DefaultOracleMaxAttempts = 3
	DefaultRateLimit         = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OracleURL:         os.Getenv("ORACLE_URL"),   // Optional, undetermined verdicts if not set
		OracleAPIKey:      os.Getenv("ORACLE_API_KEY"),
		OracleTimeout:     getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),
		OracleMaxAttempts: int(getEnvInt64("ORACLE_MAX_ATTEMPTS", DefaultOracleMaxAttempts)),
		SigningSecret:     os.Getenv("SIGNING_SECRET"), // Required, no default
		ProfilingEnabled:  getEnvBool("PROFILING_ENABLED", true),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SigningSecret == "" {
		return fmt.Errorf("SIGNING_SECRET is required")
	}
	if len(c.SigningSecret) < 32 {
		return fmt.Errorf("SIGNING_SECRET must be at least 32 characters")
	}

	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive")
	}
	if c.OracleMaxAttempts <= 0 {
		return fmt.Errorf("ORACLE_MAX_ATTEMPTS must be positive")
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

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

	// Negotiation settings
	OfferTTL         time.Duration // how long a pending/countered offer stays open
	OfferCooldown    time.Duration // minimum gap between offers from one buyer on one listing
	MaxCounterRounds int           // 0 = unbounded renegotiation
	SweepInterval    time.Duration // how often the expiration sweeper runs

	// Security
	RateLimitRPM int // requests per minute per client

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultOfferTTL      = 48 * time.Hour
	DefaultOfferCooldown = 24 * time.Hour
	DefaultSweepInterval = 30 * time.Second
	DefaultRateLimit     = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OfferTTL:         getEnvDuration("OFFER_TTL", DefaultOfferTTL),
		OfferCooldown:    getEnvDuration("OFFER_COOLDOWN", DefaultOfferCooldown),
		MaxCounterRounds: int(getEnvInt64("MAX_COUNTER_ROUNDS", 0)),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.OfferTTL <= 0 {
		return fmt.Errorf("OFFER_TTL must be positive")
	}
	if c.OfferCooldown < 0 {
		return fmt.Errorf("OFFER_COOLDOWN must not be negative")
	}
	if c.MaxCounterRounds < 0 {
		return fmt.Errorf("MAX_COUNTER_ROUNDS must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

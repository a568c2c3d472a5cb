// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds everything cmd/api needs to wire the service together.
type Config struct {
	// Server
	BindAddr     string
	GRPCAddr     string
	Version      string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	BcryptCost      int

	// Request limits
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64

	// Housekeeping
	TokenSweepInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		BindAddr:           getEnv("PULSEGRID_BIND_ADDR", ":8080"),
		GRPCAddr:           getEnv("PULSEGRID_GRPC_ADDR", ":9090"),
		Version:            getEnv("PULSEGRID_VERSION", "dev"),
		DatabaseURL:        getEnv("PULSEGRID_PG_DSN", ""),
		JWTSecret:          getEnv("PULSEGRID_AUTH_SECRET", ""),
		AccessTokenTTL:     getEnvDuration("PULSEGRID_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL:    getEnvDuration("PULSEGRID_REFRESH_TTL", 7*24*time.Hour),
		Issuer:             getEnv("PULSEGRID_ISSUER", "pulsegrid"),
		BcryptCost:         getEnvInt("PULSEGRID_BCRYPT_COST", 12),
		RateLimitPerSecond: getEnvInt("PULSEGRID_RATE_LIMIT", 20),
		RateLimitBurst:     getEnvInt("PULSEGRID_RATE_BURST", 40),
		MaxBodyBytes:       int64(getEnvInt("PULSEGRID_MAX_BODY_BYTES", 1<<20)),
		TokenSweepInterval: getEnvDuration("PULSEGRID_TOKEN_SWEEP_INTERVAL", time.Hour),
	}
}

// Validate rejects configurations the auth core cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("PULSEGRID_AUTH_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("PULSEGRID_AUTH_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("PULSEGRID_PG_DSN is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.BindAddr != ":8080" {
		t.Fatalf("unexpected bind addr %q", cfg.BindAddr)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 168*time.Hour {
		t.Fatalf("unexpected refresh ttl %v", cfg.RefreshTokenTTL)
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("unexpected bcrypt cost %d", cfg.BcryptCost)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PULSEGRID_BIND_ADDR", ":9090")
	t.Setenv("PULSEGRID_ACCESS_TTL", "5m")
	t.Setenv("PULSEGRID_RATE_LIMIT", "50")

	cfg := Load()
	if cfg.BindAddr != ":9090" {
		t.Fatalf("env override ignored: %q", cfg.BindAddr)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("duration override ignored: %v", cfg.AccessTokenTTL)
	}
	if cfg.RateLimitPerSecond != 50 {
		t.Fatalf("int override ignored: %d", cfg.RateLimitPerSecond)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg := &Config{
		JWTSecret:   "too-short",
		DatabaseURL: "postgres://localhost/pulsegrid",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for short secret")
	}

	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.DatabaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing DSN")
	}
}

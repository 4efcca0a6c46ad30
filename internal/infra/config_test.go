package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("GENERATION_LOCK_TTL_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port mismatch: got %q want %q", cfg.Port, "8080")
	}
	if cfg.LockTTL != 120*time.Second {
		t.Fatalf("LockTTL mismatch: got %v want %v", cfg.LockTTL, 120*time.Second)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("IdempotencyTTL mismatch: got %v want %v", cfg.IdempotencyTTL, 24*time.Hour)
	}
	if cfg.GenerationAttempts != 3 {
		t.Fatalf("GenerationAttempts mismatch: got %d want 3", cfg.GenerationAttempts)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted empty DATABASE_URL")
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("GENERATION_LOCK_TTL_SECONDS", "30")
	t.Setenv("GENERATION_ATTEMPTS", "5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Fatalf("LockTTL mismatch: got %v want %v", cfg.LockTTL, 30*time.Second)
	}
	if cfg.GenerationAttempts != 5 {
		t.Fatalf("GenerationAttempts mismatch: got %d want 5", cfg.GenerationAttempts)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("RateLimitPerMin mismatch: got %d want 120", cfg.RateLimitPerMin)
	}
}

func TestLoadConfigRejectsZeroAttempts(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("GENERATION_ATTEMPTS", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted zero generation attempts")
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("COREBANK_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COREBANK_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %s", cfg.RefreshTTL)
	}
	if cfg.LockoutThreshold != 5 {
		t.Fatalf("unexpected lockout threshold: %d", cfg.LockoutThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COREBANK_AUTH_SECRET", "test-secret")
	t.Setenv("COREBANK_ACCESS_TTL", "5m")
	t.Setenv("COREBANK_LOCKOUT_THRESHOLD", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL != 5*time.Minute {
		t.Fatalf("unexpected access ttl: %s", cfg.AccessTTL)
	}
	if cfg.LockoutThreshold != 3 {
		t.Fatalf("unexpected lockout threshold: %d", cfg.LockoutThreshold)
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOCGATE_KEY_TTL_SECONDS", "")
	t.Setenv("DOCGATE_BACKEND", "")
	cfg := Load()
	if cfg.KeyTTL != 24*time.Hour {
		t.Fatalf("expected one day key ttl, got %s", cfg.KeyTTL)
	}
	if cfg.Backend != "badger" {
		t.Fatalf("expected badger backend, got %q", cfg.Backend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DOCGATE_KEY_TTL_SECONDS", "60")
	t.Setenv("DOCGATE_BACKEND", "memory")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg := Load()
	if cfg.KeyTTL != time.Minute {
		t.Fatalf("expected 1m, got %s", cfg.KeyTTL)
	}
	if cfg.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Backend)
	}
	if !cfg.MinioUseSSL {
		t.Fatalf("expected MinioUseSSL")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("DOCGATE_TEST_INT", "twelve")
	if got := getenvInt("DOCGATE_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

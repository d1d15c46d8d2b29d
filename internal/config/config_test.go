package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("expected default TTL 30m, got %v", cfg.SessionTTL)
	}
	if cfg.ExecTimeout != 10*time.Second {
		t.Errorf("expected default exec timeout 10s, got %v", cfg.ExecTimeout)
	}
	if cfg.CleanupInterval != 60*time.Second {
		t.Errorf("expected default cleanup interval 60s, got %v", cfg.CleanupInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("EXEC_TIMEOUT", "2s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("expected port override, got %q", cfg.Port)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("expected TTL override, got %v", cfg.SessionTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadIgnoresBadDuration(t *testing.T) {
	t.Setenv("SESSION_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("bad duration must fall back to default, got %v", cfg.SessionTTL)
	}
}

func TestValidateRejectsTimeoutLongerThanTTL(t *testing.T) {
	cfg := &Config{
		Port:            "8080",
		AuditDBPath:     "./x.db",
		SessionTTL:      time.Second,
		ExecTimeout:     time.Minute,
		CleanupInterval: time.Minute,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for EXEC_TIMEOUT >= SESSION_TTL")
	}
}

func TestValidateRejectsEmptyPort(t *testing.T) {
	cfg := &Config{
		AuditDBPath:     "./x.db",
		SessionTTL:      time.Hour,
		ExecTimeout:     time.Second,
		CleanupInterval: time.Minute,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty port")
	}
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port              string
	AuditDBPath       string
	SessionTTL        time.Duration
	ExecTimeout       time.Duration
	CleanupInterval   time.Duration
	SanitizeRulesPath string
	AllowedOrigins    []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		AuditDBPath:       getEnv("AUDIT_DB_PATH", "./data/replbox.db"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 30*time.Minute),
		ExecTimeout:       getEnvDuration("EXEC_TIMEOUT", 10*time.Second),
		CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", 60*time.Second),
		SanitizeRulesPath: getEnv("SANITIZE_RULES_PATH", ""),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AuditDBPath == "" {
		return fmt.Errorf("AUDIT_DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ExecTimeout <= 0 {
		return fmt.Errorf("EXEC_TIMEOUT must be positive")
	}
	if c.ExecTimeout >= c.SessionTTL {
		return fmt.Errorf("EXEC_TIMEOUT must be shorter than SESSION_TTL")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

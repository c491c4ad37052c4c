package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DBDriver != DriverSQLite {
		t.Errorf("Expected sqlite driver, got %q", cfg.DBDriver)
	}
	if cfg.AttemptCooldown != 60*time.Second {
		t.Errorf("Expected 60s cooldown, got %s", cfg.AttemptCooldown)
	}
	if cfg.RevealTick != 250*time.Millisecond {
		t.Errorf("Expected 250ms tick, got %s", cfg.RevealTick)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info level, got %s", cfg.LogLevel)
	}
	if !cfg.RequestLog {
		t.Error("Expected request logging on by default")
	}
}

func TestDevSessionsNeedExplicitEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development cookies without a frontend URL")
	}
	if cfg.DevSessionsEnabled() {
		t.Error("Expected dev sessions disabled when APP_ENV is unset")
	}

	t.Setenv("APP_ENV", "production")
	if cfg, _ = Load(); cfg.DevSessionsEnabled() {
		t.Error("Expected dev sessions disabled in production")
	}

	t.Setenv("APP_ENV", "Development")
	if cfg, _ = Load(); !cfg.DevSessionsEnabled() {
		t.Error("Expected dev sessions enabled for APP_ENV=development")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ATTEMPT_COOLDOWN", "120")
	t.Setenv("REVEAL_TICK", "100ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/cluehunt")
	t.Setenv("REQUEST_LOG", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AttemptCooldown != 120*time.Second {
		t.Errorf("Expected bare seconds to parse, got %s", cfg.AttemptCooldown)
	}
	if cfg.RevealTick != 100*time.Millisecond {
		t.Errorf("Expected 100ms tick, got %s", cfg.RevealTick)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %s", cfg.LogLevel)
	}
	if cfg.DBDriver != DriverPostgres {
		t.Errorf("Expected postgres driver, got %q", cfg.DBDriver)
	}
	if cfg.RequestLog {
		t.Error("Expected request logging disabled")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(*Config){
		"short secret":      func(c *Config) { c.JWTSecret = "short" },
		"unknown driver":    func(c *Config) { c.DBDriver = "mysql" },
		"postgres no url":   func(c *Config) { c.DBDriver = DriverPostgres; c.DatabaseURL = "" },
		"negative cooldown": func(c *Config) { c.AttemptCooldown = -time.Second },
		"slow tick":         func(c *Config) { c.RevealTick = 2 * time.Second },
		"no retries":        func(c *Config) { c.Retry.DatabaseMaxRetries = 0 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateMessageNamesKey(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("Expected error mentioning JWT_SECRET, got %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Port:            "8080",
		DBDriver:        DriverSQLite,
		DBPath:          "./data/test.db",
		JWTSecret:       testSecret,
		SessionTTL:      time.Hour,
		AttemptCooldown: time.Minute,
		RevealTick:      250 * time.Millisecond,
		Gradebook:       GradebookConfig{Timeout: time.Second},
		Retry:           RetryConfig{DatabaseMaxRetries: 3, DatabaseRetryBaseDelay: time.Millisecond},
		Timeout:         TimeoutConfig{HealthCheck: time.Second},
	}
}

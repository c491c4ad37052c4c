// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	AppEnv      string
	LogLevel    slog.Level
	// RequestLog enables per-request access logging.
	RequestLog  bool
	DBDriver    string // "sqlite" or "postgres"
	DBPath      string // SQLite file path
	DatabaseURL string // PostgreSQL connection string
	JWTSecret   string
	SessionTTL  time.Duration
	// AttemptCooldown is the minimum spacing between two answer submissions
	// of the same user for the same question.
	AttemptCooldown time.Duration
	// RevealTick is how often the live stream re-evaluates the reveal schedule.
	RevealTick time.Duration
	Gradebook  GradebookConfig
	Retry      RetryConfig
	Timeout    TimeoutConfig
}

// GradebookConfig controls the grade-book collaborator.
type GradebookConfig struct {
	Addr    string // gRPC address; empty logs grades locally
	Timeout time.Duration
}

// RetryConfig controls retries of idempotent database writes.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// TimeoutConfig holds request-scoped timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		AppEnv:          strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", ""))),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		RequestLog:      getEnvBool("REQUEST_LOG", true),
		DBDriver:        strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBPath:          getEnv("DB_PATH", "./data/cluehunt.db"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		SessionTTL:      getEnvDuration("SESSION_TTL", 12*time.Hour),
		AttemptCooldown: getEnvDuration("ATTEMPT_COOLDOWN", 60*time.Second),
		RevealTick:      getEnvDuration("REVEAL_TICK", 250*time.Millisecond),
		Gradebook: GradebookConfig{
			Addr:    getEnv("GRADEBOOK_ADDR", ""),
			Timeout: getEnvDuration("GRADEBOOK_TIMEOUT", 5*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
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
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL cannot be empty when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.AttemptCooldown < 0 {
		return fmt.Errorf("ATTEMPT_COOLDOWN cannot be negative")
	}
	if c.RevealTick <= 0 || c.RevealTick >= time.Second {
		return fmt.Errorf("REVEAL_TICK must be between 0 and 1s")
	}
	if c.Gradebook.Timeout <= 0 {
		return fmt.Errorf("GRADEBOOK_TIMEOUT must be > 0")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode. It relaxes
// cookie and origin checks only.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// DevSessionsEnabled reports whether POST /api/session may mint tokens.
// It needs APP_ENV=development; an unset environment never qualifies.
func (c *Config) DevSessionsEnabled() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration syntax ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

// Package config loads the bot's settings from 12-factor environment
// variables.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anf-aiops/opsbot/pkg/archive"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects Postgres. Empty means lite mode on SQLite at LitePath.
	DatabaseURL string
	LitePath    string
	// RedisURL, when set, moves confirmation tickets to Redis.
	RedisURL string

	ConfirmationTTL  time.Duration
	ConfidenceFloor  float64
	CommandNamespace string
	RolesFile        string
	AdminRole        string

	// MCPBaseURL is the operations backend. Empty serves from an in-memory
	// inventory.
	MCPBaseURL string
	MCPAPIKey  string

	SigningSecret string

	RateLimitRPS   float64
	RateLimitBurst int

	Archive              archive.Config
	ArchiveFlushInterval time.Duration

	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables. Malformed values fall
// back to their defaults with a warning.
func Load() *Config {
	return &Config{
		Port:     envOr("PORT", "8080"),
		LogLevel: strings.ToUpper(envOr("LOG_LEVEL", "INFO")),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		LitePath:    envOr("SQLITE_PATH", "opsbot.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		ConfirmationTTL:  envDuration("CONFIRMATION_TTL", 5*time.Minute),
		ConfidenceFloor:  envFloat("CONFIDENCE_FLOOR", 0.5),
		CommandNamespace: envOr("COMMAND_NAMESPACE", "anf"),
		RolesFile:        os.Getenv("ROLES_FILE"),
		AdminRole:        envOr("ADMIN_ROLE", "ANF.Admin"),

		MCPBaseURL: os.Getenv("MCP_BASE_URL"),
		MCPAPIKey:  envOr("MCP_API_KEY", "changeme"),

		SigningSecret: os.Getenv("BOT_SIGNING_SECRET"),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 10),

		Archive: archive.Config{
			Kind:     archive.Kind(strings.ToLower(os.Getenv("AUDIT_ARCHIVE"))),
			Dir:      os.Getenv("AUDIT_ARCHIVE_DIR"),
			Bucket:   os.Getenv("AUDIT_ARCHIVE_BUCKET"),
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: os.Getenv("AUDIT_ARCHIVE_ENDPOINT"),
			Prefix:   os.Getenv("AUDIT_ARCHIVE_PREFIX"),
		},
		ArchiveFlushInterval: envDuration("AUDIT_ARCHIVE_INTERVAL", time.Minute),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// LiteMode reports whether the bot runs on SQLite.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if c.SigningSecret == "" {
		errs = append(errs, errors.New("BOT_SIGNING_SECRET is required"))
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		errs = append(errs, errors.New("CONFIDENCE_FLOOR must be within [0, 1]"))
	}
	if c.ConfirmationTTL <= 0 {
		errs = append(errs, errors.New("CONFIRMATION_TTL must be positive"))
	}
	if (c.Archive.Kind == archive.KindS3 || c.Archive.Kind == archive.KindGCS) && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("AUDIT_ARCHIVE_BUCKET is required for "+string(c.Archive.Kind)))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

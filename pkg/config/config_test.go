package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/anf-aiops/opsbot/pkg/archive"
	"github.com/anf-aiops/opsbot/pkg/config"
	"github.com/stretchr/testify/assert"
)

var keys = []string{
	"PORT", "LOG_LEVEL", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL",
	"CONFIRMATION_TTL", "CONFIDENCE_FLOOR", "COMMAND_NAMESPACE", "ROLES_FILE", "ADMIN_ROLE",
	"MCP_BASE_URL", "MCP_API_KEY", "BOT_SIGNING_SECRET", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUDIT_ARCHIVE", "AUDIT_ARCHIVE_BUCKET", "OTEL_ENABLED",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies the bot boots in lite mode with no environment.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "opsbot.db", cfg.LitePath)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmationTTL)
	assert.Equal(t, 0.5, cfg.ConfidenceFloor)
	assert.Equal(t, "anf", cfg.CommandNamespace)
	assert.Equal(t, "ANF.Admin", cfg.AdminRole)
	assert.Equal(t, "changeme", cfg.MCPAPIKey)
	assert.Equal(t, archive.KindNone, cfg.Archive.Kind)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

// TestLoad_Overrides verifies that environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("CONFIRMATION_TTL", "90s")
	t.Setenv("CONFIDENCE_FLOOR", "0.7")
	t.Setenv("AUDIT_ARCHIVE", "S3")
	t.Setenv("AUDIT_ARCHIVE_BUCKET", "audit")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, 90*time.Second, cfg.ConfirmationTTL)
	assert.Equal(t, 0.7, cfg.ConfidenceFloor)
	assert.Equal(t, archive.KindS3, cfg.Archive.Kind)
	assert.True(t, cfg.OTelEnabled)
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIRMATION_TTL", "five minutes")
	t.Setenv("RATE_LIMIT_BURST", "lots")

	cfg := config.Load()
	assert.Equal(t, 5*time.Minute, cfg.ConfirmationTTL)
	assert.Equal(t, 10, cfg.RateLimitBurst)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg := config.Load()
	assert.ErrorContains(t, cfg.Validate(), "BOT_SIGNING_SECRET")

	cfg.SigningSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.ConfidenceFloor = 1.5
	cfg.Archive = archive.Config{Kind: archive.KindGCS}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "CONFIDENCE_FLOOR")
	assert.ErrorContains(t, err, "AUDIT_ARCHIVE_BUCKET")
}

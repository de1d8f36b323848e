package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/promptquest/internal/historian"
)

var configKeys = []string{
	"PORT", "LOG_LEVEL", "DATABASE_URL", "PG_HOST", "REDIS_URL", "REDIS_ADDR", "REDIS_DB",
	"GCP_PROJECT_ID", "GCP_REGION", "GEMINI_API_KEY", "GEMINI_MODEL",
	"ORACLE_MAX_ATTEMPTS", "ORACLE_RETRY_DELAY", "ORACLE_RETRY_MULTIPLIER", "ORACLE_TIMEOUT",
	"RESCORE_INTERVAL", "RESCORE_AFTER", "TOKEN_EXPIRE_TIME", "ALLOWED_ORIGINS",
	"JWT_PRIVATE_KEY_PATH", "JWT_PUBLIC_KEY_PATH",
	"HISTORY_ENABLED", "HISTORIAN_QUEUE_NAME", "HISTORIAN_BATCH_SIZE", "HISTORIAN_FLUSH_INTERVAL",
}

func clearEnv(t *testing.T) {
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.OracleConfigured())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 30*time.Second, cfg.Retry.AttemptTimeout)
	assert.Equal(t, time.Minute, cfg.RescoreInterval)
	assert.Equal(t, 5*time.Minute, cfg.RescoreAfter)
	assert.Equal(t, 72*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.HistoryEnabled)
	assert.Equal(t, historian.DefaultQueue, cfg.History.Queue)
	assert.Equal(t, historian.DefaultBatchSize, cfg.History.BatchSize)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("ORACLE_MAX_ATTEMPTS", "5")
	t.Setenv("ORACLE_RETRY_MULTIPLIER", "1")
	t.Setenv("TOKEN_EXPIRE_TIME", "never")
	t.Setenv("ALLOWED_ORIGINS", "app.example.com, localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.OracleConfigured())
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1.0, cfg.Retry.Multiplier)
	assert.Zero(t, cfg.TokenTTL)
	assert.Equal(t, []string{"app.example.com", "localhost:5173"}, cfg.AllowedOrigins)
}

func TestHistoryNeedsRedisAndDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/pq")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	require.Error(t, err, "queued history would never be archived or served")
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/pq")
	t.Setenv("HISTORIAN_FLUSH_INTERVAL", "2s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HistoryEnabled)
	assert.Equal(t, 2*time.Second, cfg.History.FlushInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORACLE_TIMEOUT", "soon")
	t.Setenv("ORACLE_MAX_ATTEMPTS", "0")
	t.Setenv("TOKEN_EXPIRE_TIME", "a while")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORACLE_TIMEOUT")
	assert.Contains(t, err.Error(), "ORACLE_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "TOKEN_EXPIRE_TIME")
}

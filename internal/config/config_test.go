package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TIMEZONE", "")
	t.Setenv("MAX_ADMIT_RETRIES", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.MaxAdmitRetries)
	assert.Equal(t, 20, cfg.WalkinBoardSize)
	assert.Equal(t, "Asia/Manila", cfg.Location.String())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("MAX_ADMIT_RETRIES", "0")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.UTC.String(), cfg.Location.String())
	assert.Equal(t, 1, cfg.MaxAdmitRetries)
	assert.Equal(t, 30, cfg.RateLimitBurst)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://localhost/queue", JWTSecret: "0123456789abcdef"}
	require.NoError(t, cfg.Validate())

	cfg.JWTSecret = "short"
	require.Error(t, cfg.Validate())

	cfg = Config{JWTSecret: "0123456789abcdef"}
	require.Error(t, cfg.Validate())
}

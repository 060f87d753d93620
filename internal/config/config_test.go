package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "chatsync", cfg.AppName)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, 1500*time.Millisecond, cfg.SettleDelay)
	require.Equal(t, 4500*time.Millisecond, cfg.ConfirmDuration)
	require.Equal(t, 500*time.Millisecond, cfg.ScrollDelay)
	require.Equal(t, 3*time.Second, cfg.SearchWarmDelay)
	require.True(t, cfg.ValidateSchemas)
	require.Equal(t, ":8090", cfg.StatusAddress())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHATSYNC_STORE_BACKEND", "redis")
	t.Setenv("CHATSYNC_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CHATSYNC_CONFIRM_DURATION", "2s")
	t.Setenv("CHATSYNC_STATUS_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendRedis, cfg.StoreBackend)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Equal(t, 2*time.Second, cfg.ConfirmDuration)
	require.Equal(t, ":9999", cfg.StatusAddress())
}

func TestLoadRejectsIncompleteBackends(t *testing.T) {
	t.Setenv("CHATSYNC_STORE_BACKEND", "redis")
	_, err := Load()
	require.Error(t, err, "redis backend needs a url")

	t.Setenv("CHATSYNC_STORE_BACKEND", "gorm")
	_, err = Load()
	require.Error(t, err, "gorm backend needs a database url")

	t.Setenv("CHATSYNC_STORE_BACKEND", "papyrus")
	_, err = Load()
	require.Error(t, err, "unknown backends are rejected")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("CHATSYNC_SETTLE_DELAY", "soon")
	_, err := Load()
	require.Error(t, err)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, "7810", cfg.APIPort)
	require.Equal(t, "5.131", cfg.RemoteAPIVersion)
	require.Equal(t, 350*time.Millisecond, cfg.RequestDelay)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, time.Second, cfg.QuotaBackoff)
	require.Equal(t, 2, cfg.QuotaRetries)
	require.Equal(t, 100*time.Millisecond, cfg.BatchWindow)
	require.Equal(t, 25, cfg.BatchMaxSize)
	require.Equal(t, 25, cfg.LongPollWait)
	require.Equal(t, 5*time.Second, cfg.LongPollRetryDelay)
	require.True(t, cfg.NotificationsEnabled)
	require.False(t, cfg.TracingEnabled)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNCD_PORT", "9000")
	t.Setenv("GATEWAY_REQUEST_DELAY", "500ms")
	t.Setenv("GATEWAY_QUOTA_RETRIES", "5")
	t.Setenv("BATCH_MAX_SIZE", "10")
	t.Setenv("NOTIFICATIONS_ENABLED", "false")
	t.Setenv("REMOTE_ACCESS_TOKEN", "tok123")

	cfg := Load()

	require.Equal(t, "9000", cfg.APIPort)
	require.Equal(t, 500*time.Millisecond, cfg.RequestDelay)
	require.Equal(t, 5, cfg.QuotaRetries)
	require.Equal(t, 10, cfg.BatchMaxSize)
	require.False(t, cfg.NotificationsEnabled)
	require.Equal(t, "tok123", cfg.RemoteToken)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("GATEWAY_REQUEST_DELAY", "soon")
	t.Setenv("GATEWAY_QUOTA_RETRIES", "many")
	t.Setenv("NOTIFICATIONS_ENABLED", "sure")

	cfg := Load()

	require.Equal(t, 350*time.Millisecond, cfg.RequestDelay)
	require.Equal(t, 2, cfg.QuotaRetries)
	require.True(t, cfg.NotificationsEnabled)
}

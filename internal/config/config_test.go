package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, "3000", cfg.Port)
	require.Equal(t, 100, cfg.MaxRetained)
	require.Equal(t, 2, cfg.VitalsSchemaVersion)
	require.Equal(t, "json", cfg.LogFormat)
	require.False(t, cfg.MQTT.Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("MAX_RETAINED", "50")
	t.Setenv("VITALS_SCHEMA_VERSION", "1")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("TRUST_PROXY_HEADERS", "true")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_TIMEOUT_SECONDS", "3")

	cfg := Load()

	require.Equal(t, "8081", cfg.Port)
	require.Equal(t, 50, cfg.MaxRetained)
	require.Equal(t, 1, cfg.VitalsSchemaVersion)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.True(t, cfg.TrustProxyHeaders)
	require.True(t, cfg.MQTT.Enabled())
	require.Equal(t, 3*time.Second, cfg.MQTT.Timeout)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_RETAINED", "not-a-number")

	cfg := Load()
	require.Equal(t, 100, cfg.MaxRetained)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable ValidateEnv reads so ambient values from the
// developer's shell cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDRESS", "MAX_CONNECTIONS_PER_ROOM", "FLOOR_MAX_DURATION_MS",
		"AUTH_TIMEOUT_MS", "IDLE_TIMEOUT_MS", "ALLOW_DEV_AUTH", "AUTH_DOMAIN",
		"AUTH_AUDIENCE", "REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
		"PUSH_GATEWAY_URL", "PUSH_GATEWAY_KEY", "GO_ENV", "LOG_LEVEL",
		"ALLOWED_ORIGINS", "OTEL_COLLECTOR_ADDR", "RATE_LIMIT_WS_IP",
		"RATE_LIMIT_WS_USER",
	} {
		t.Setenv(key, "")
	}
}

func TestValidateEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOW_DEV_AUTH", "true")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, 50, cfg.MaxConnectionsPerRoom)
	assert.Equal(t, 2*time.Minute, cfg.FloorMaxDuration)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "100-M", cfg.RateLimitWsIP)
	assert.Equal(t, "10-M", cfg.RateLimitWsUser)
}

func TestValidateEnvRequiresAuthConfigInProduction(t *testing.T) {
	clearEnv(t)

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_DOMAIN")
	assert.Contains(t, err.Error(), "AUTH_AUDIENCE")
}

func TestValidateEnvAcceptsProductionAuth(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_DOMAIN", "tenant.auth0.com")
	t.Setenv("AUTH_AUDIENCE", "https://api.example.com")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "tenant.auth0.com", cfg.AuthDomain)
	assert.False(t, cfg.AllowDevAuth)
}

func TestValidateEnvRejectsBadListenAddress(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOW_DEV_AUTH", "true")
	t.Setenv("LISTEN_ADDRESS", "not-an-address")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LISTEN_ADDRESS")
}

func TestValidateEnvRejectsBadDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOW_DEV_AUTH", "true")
	t.Setenv("FLOOR_MAX_DURATION_MS", "0")
	t.Setenv("AUTH_TIMEOUT_MS", "nope")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOOR_MAX_DURATION_MS")
	assert.Contains(t, err.Error(), "AUTH_TIMEOUT_MS")
}

func TestValidateEnvParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOW_DEV_AUTH", "true")
	t.Setenv("LISTEN_ADDRESS", "127.0.0.1:9090")
	t.Setenv("MAX_CONNECTIONS_PER_ROOM", "8")
	t.Setenv("FLOOR_MAX_DURATION_MS", "30000")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("GO_ENV", "development")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddress)
	assert.Equal(t, 8, cfg.MaxConnectionsPerRoom)
	assert.Equal(t, 30*time.Second, cfg.FloorMaxDuration)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.True(t, cfg.IsDevelopment())
}

func TestValidateEnvRejectsBadRedisAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOW_DEV_AUTH", "true")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", ":6379")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

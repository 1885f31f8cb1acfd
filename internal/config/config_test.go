package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) InitOption {
	return WithEnvFile(filepath.Join(t.TempDir(), "absent.env"))
}

func TestDefaults(t *testing.T) {
	cfg, err := New(WithDisableFlagsParsing(true), noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.RunAddr)
	assert.Equal(t, "http://localhost:8000", cfg.ShortURLBase)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.DBConnectionTimeout)
	assert.Equal(t, "http://localhost:8000/callback", cfg.AuthCallbackURL)
	assert.Equal(t, 10*time.Minute, cfg.OAuthStateTTL)
	assert.Equal(t, "random", cfg.IDGenerator)
	assert.True(t, cfg.ClickCounting)
	assert.Equal(t, 2*time.Second, cfg.ClickFlushInterval)
	assert.Equal(t, 1024, cfg.ClickQueueCapacity)
	assert.Equal(t, 30, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "tokenshrt", cfg.ServiceName)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Empty(t, cfg.TrustedSubnet)
}

func TestConfigEnvOnly(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":7000")
	t.Setenv("API_BASE_URL", "http://envonly.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_URI", "postgres://localhost/shortener")
	t.Setenv("ID_GENERATOR", "clock")
	t.Setenv("CLICK_COUNTING", "false")
	t.Setenv("TRUSTED_SUBNET", "10.0.0.0/8")
	t.Setenv("TRUSTED_PROXIES", "127.0.0.1/32,172.16.0.0/12")
	t.Setenv("RATELIMIT_WINDOW", "30s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := New(WithDisableFlagsParsing(true), noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.RunAddr)
	assert.Equal(t, "http://envonly.com", cfg.ShortURLBase)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/shortener", cfg.DatabaseDSN)
	assert.Equal(t, "clock", cfg.IDGenerator)
	assert.False(t, cfg.ClickCounting)
	assert.Equal(t, "10.0.0.0/8", cfg.TrustedSubnet)
	assert.Equal(t, []string{"127.0.0.1/32", "172.16.0.0/12"}, cfg.TrustedProxies)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestConfigPriorityFlagsOverEnv(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":4000")
	t.Setenv("API_BASE_URL", "http://env.com")
	t.Setenv("DB_URI", "env-dsn")

	cfg, err := New(
		WithArgs([]string{"-a", ":6000", "-b", "http://cli.com", "-l", "warn"}),
		noEnvFile(t),
	)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.RunAddr)
	assert.Equal(t, "http://cli.com", cfg.ShortURLBase)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "env-dsn", cfg.DatabaseDSN, "env survives when no flag is given")
}

func TestConfigPriorityEnvOverDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=error\nSERVICE_NAME=from-dotenv\n"), 0644))
	t.Setenv("LOG_LEVEL", "debug")
	t.Cleanup(func() { _ = os.Unsetenv("SERVICE_NAME") })

	cfg, err := New(WithDisableFlagsParsing(true), WithEnvFile(envFile))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "from-dotenv", cfg.ServiceName)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "log level", key: "LOG_LEVEL", value: "verbose"},
		{name: "generator", key: "ID_GENERATOR", value: "uuid"},
		{name: "base url", key: "API_BASE_URL", value: "not a url"},
		{name: "server address", key: "SERVER_ADDRESS", value: "nowhere"},
		{name: "trusted subnet", key: "TRUSTED_SUBNET", value: "10.0.0.1"},
		{name: "trusted proxies", key: "TRUSTED_PROXIES", value: "10.0.0.0/8,10.0.0.1"},
		{name: "queue capacity", key: "CLICK_QUEUE_CAPACITY", value: "0"},
		{name: "unparsable duration", key: "CLICK_FLUSH_INTERVAL", value: "soon"},
		{name: "cors origin", key: "CORS_ALLOWED_ORIGINS", value: "https://ok.example,nope"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv(test.key, test.value)

			_, err := New(WithDisableFlagsParsing(true), noEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestUnknownFlag(t *testing.T) {
	_, err := New(WithArgs([]string{"-z"}), noEnvFile(t))
	assert.Error(t, err)
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 8*time.Hour, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, 5, cfg.Identity.LockoutThreshold)
	assert.Equal(t, "identity.audit", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Postgres.DSN)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("IDENTITY_HTTP_PORT", "9090")
	t.Setenv("IDENTITY_JWT_ACCESS_TTL", "1h")
	t.Setenv("IDENTITY_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("IDENTITY_IDENTITY_LOCKOUT_THRESHOLD", "3")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, time.Hour, cfg.JWT.AccessTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Identity.LockoutThreshold)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identityd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: production
smtp:
  host: smtp.example.com
  from: no-reply@example.com
identity:
  unlock_on_password_reset: false
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.False(t, cfg.Identity.UnlockOnPasswordReset)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	_, err = cfg.EngineConfig()
	require.Error(t, err, "empty secret must be rejected")

	cfg.JWT.Secret = testSecret
	cfg.Redis.Addr = "localhost:6379"
	cfg.Identity.UnlockOnPasswordReset = false

	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.True(t, engineCfg.RateLimit.Enabled)
	assert.False(t, engineCfg.Lockout.UnlockOnPasswordReset)
	assert.Equal(t, []byte(testSecret), engineCfg.JWT.PrivateKey)

	cfg.JWT.SigningMethod = "ed25519"
	_, err = cfg.EngineConfig()
	require.Error(t, err)
}

func TestAppServesHealthInMemoryMode(t *testing.T) {
	t.Setenv("IDENTITY_JWT_SECRET", testSecret)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "identity_register_success_total")
}

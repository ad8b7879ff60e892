package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DBDialect)
	assert.Equal(t, 8*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.RequireTOTPForEmailChange)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoadReadsDotEnvButEnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RATE_LIMIT_BURST=3\nADDR_TEST_ONLY=x\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("ALLOWED_ORIGINS", "https://a.test, https://b.test,")
	t.Cleanup(func() {
		os.Unsetenv("ADDR_TEST_ONLY")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimitBurst)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
}

func TestLoadRejectsUnknownDialect(t *testing.T) {
	t.Setenv("DB_DIALECT", "oracle")
	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
}

func TestEngineConfigHS256(t *testing.T) {
	t.Setenv("JWT_SIGNING_METHOD", "hs256")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("CSRF_KEY", strings.Repeat("ab", 32))
	t.Setenv("SESSION_TTL", "2h")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, "hs256", ec.JWT.SigningMethod)
	assert.Len(t, ec.CSRF.Key, 32)
	assert.Equal(t, 2*time.Hour, ec.Session.TTL)
}

func TestEngineConfigErrors(t *testing.T) {
	cfg := &Config{JWTSigningMethod: "hs256"}
	_, err := cfg.Engine()
	assert.ErrorContains(t, err, "JWT_SECRET")

	cfg = &Config{JWTSigningMethod: "ed25519"}
	_, err = cfg.Engine()
	assert.ErrorContains(t, err, "JWT_PRIVATE_KEY_PATH")

	cfg = &Config{JWTSigningMethod: "hs256", JWTSecret: strings.Repeat("s", 32), CSRFKey: "zz"}
	_, err = cfg.Engine()
	assert.ErrorContains(t, err, "CSRF_KEY")
}

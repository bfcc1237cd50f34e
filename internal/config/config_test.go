package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "SIGNING_SECRET", testSecret)
	setEnv(t, "PORT", "9090")
	setEnv(t, "ORACLE_URL", "https://oracle.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://oracle.example.com", cfg.OracleURL)
	assert.Equal(t, DefaultOracleTimeout, cfg.OracleTimeout)
	assert.Equal(t, DefaultOracleMaxAttempts, cfg.OracleMaxAttempts)
	assert.True(t, cfg.ProfilingEnabled)
}

func TestLoad_MissingSigningSecret(t *testing.T) {
	setEnv(t, "SIGNING_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNING_SECRET")
}

func TestLoad_ShortSigningSecret(t *testing.T) {
	setEnv(t, "SIGNING_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters")
}

func TestLoad_OracleTimeoutOverride(t *testing.T) {
	setEnv(t, "SIGNING_SECRET", testSecret)
	setEnv(t, "ORACLE_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.OracleTimeout)
}

func TestLoad_ProfilingDisabled(t *testing.T) {
	setEnv(t, "SIGNING_SECRET", testSecret)
	setEnv(t, "PROFILING_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.ProfilingEnabled)
}

func TestEnvHelpers(t *testing.T) {
	setEnv(t, "SOME_INT", "not-a-number")
	assert.Equal(t, int64(42), getEnvInt64("SOME_INT", 42))

	setEnv(t, "SOME_BOOL", "yes-ish")
	assert.True(t, getEnvBool("SOME_BOOL", true))

	setEnv(t, "SOME_DUR", "bogus")
	assert.Equal(t, time.Second, getEnvDuration("SOME_DUR", time.Second))
}

func TestIsDevelopmentAndProduction(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}

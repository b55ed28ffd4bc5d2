package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "https://auth.track.test/")
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.track.test", cfg.Issuer)
	assert.Equal(t, cfg.Issuer, cfg.Audience)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.AuthCodeTTL)
	assert.True(t, cfg.ReuseRevokesFamily)
	assert.Equal(t, DCRModeProtected, cfg.DCRMode)
}

func TestLoadConfigFromEnvRequiresIssuer(t *testing.T) {
	t.Setenv("OAUTH_ISSUER", "")
	_, err := LoadConfigFromEnv()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.RefreshTokenTTL = time.Minute
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.DCRMode = "sometimes"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Issuer = "auth.track.test"
	assert.Error(t, bad.Validate())
}

func TestLoadStoreConfigFallback(t *testing.T) {
	t.Setenv("OAUTH_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "sqlite::memory:")
	cfg, err := LoadStoreConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sqlite::memory:", cfg.DatabaseURL)
	assert.Equal(t, 5, cfg.MaxOpenConns)

	t.Setenv("DATABASE_URL", "")
	_, err = LoadStoreConfigFromEnv()
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.MagicLinkTTL)
	assert.True(t, cfg.Auth.DoubleOptIn)
	assert.True(t, cfg.Database.Migrate)

	// Missing secret falls back to the dev placeholder outside production.
	assert.Equal(t, insecureDevSecret, cfg.Auth.TokenSecret)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: staging
server:
  port: "9999"
auth:
  token_secret: file-secret
  double_opt_in: false
  magic_link_ttl: 24h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Auth.TokenSecret)
	assert.False(t, cfg.Auth.DoubleOptIn)
	assert.Equal(t, 24*time.Hour, cfg.Auth.MagicLinkTTL)

	// Untouched sections keep their defaults.
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAILLOOP_AUTH__TOKEN_SECRET", "env-secret")
	t.Setenv("MAILLOOP_DATABASE__MAX_OPEN_CONNS", "42")
	t.Setenv("MAILLOOP_LOG__LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Auth.TokenSecret)
	assert.Equal(t, 42, cfg.Database.MaxOpenConns)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("MAILLOOP_ENVIRONMENT", "production")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_secret")
}

func TestLoad_EmailValidation(t *testing.T) {
	t.Setenv("MAILLOOP_NOTIFICATIONS__EMAIL__ENABLED", "true")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp_host")
}

func TestEnvKeyToPath(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"MAILLOOP_ENVIRONMENT", "environment"},
		{"MAILLOOP_SERVER__PORT", "server.port"},
		{"MAILLOOP_DATABASE__MAX_OPEN_CONNS", "database.max_open_conns"},
		{"MAILLOOP_NOTIFICATIONS__EMAIL__SMTP_HOST", "notifications.email.smtp_host"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, envKeyToPath(tt.key))
		})
	}
}

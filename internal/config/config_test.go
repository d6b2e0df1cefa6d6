package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("META_DATABASE_URL", "postgres://meta")
	t.Setenv("TENANT_DB_USER", "fiscal")
	t.Setenv("TENANT_DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("CREDENTIALS_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Development())
	assert.Equal(t, 60*time.Second, cfg.Gateway.Emit)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Query)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 10, cfg.Webhook.FailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.ContingencyInterval)
	assert.Equal(t, "fiscal", cfg.Tenants.DBUser)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("WEBHOOK_FAILURE_THRESHOLD", "3")
	t.Setenv("GATEWAY_EMIT_TIMEOUT", "90s")
	t.Setenv("TENANT_MAX_POOLS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Development())
	assert.Equal(t, 3, cfg.Webhook.FailureThreshold)
	assert.Equal(t, 90*time.Second, cfg.Gateway.Emit)
	assert.Equal(t, 100, cfg.Tenants.MaxTotalPools)
}

func TestLoad_ReportsAllMissing(t *testing.T) {
	for _, k := range []string{"META_DATABASE_URL", "TENANT_DB_USER", "TENANT_DB_PASSWORD", "JWT_SECRET", "CREDENTIALS_KEY"} {
		t.Setenv(k, "")
	}

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "CREDENTIALS_KEY")
}

func TestLoad_RejectsNonPositiveThreshold(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_FAILURE_THRESHOLD", "-1")

	_, err := Load()
	assert.Error(t, err)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODE", "DEV")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeDev, cfg.Mode)
	assert.Equal(t, "vpn_service", cfg.DB.Name)
	assert.Equal(t, int32(10), cfg.DB.MaxConns)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadTestModeUsesTestStore(t *testing.T) {
	t.Setenv("MODE", "TEST")
	t.Setenv("TEST_DB_NAME", "vpn_test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "vpn_test", cfg.DB.Name)
	assert.Equal(t, int32(1), cfg.DB.MaxConns, "TEST mode pins a single connection")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("MODE", "STAGING")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadProdRequiresSecrets(t *testing.T) {
	t.Setenv("MODE", "PROD")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("VPN_API_URL", "")
	t.Setenv("CRON_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	db := DBConfig{
		Host: "db", Port: "5433", User: "u", Password: "p",
		Name: "vpn_service", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5433 user=u password=p dbname=vpn_service sslmode=disable",
		db.DSN())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 1812, cfg.Radiusd.AuthPort)
	assert.Equal(t, 1813, cfg.Radiusd.AcctPort)
	assert.Equal(t, 4, cfg.Radiusd.StaleHours)
	// no built in token secret, admin http stays off until one is set
	assert.Empty(t, cfg.Admin.JwtSecret)

	t.Setenv("RADBILL_ADMIN_JWT_SECRET", "s3cret")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Admin.JwtSecret)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "radbill.yml")
	content := "system:\n  workdir: " + dir + "\ndatabase:\n  type: sqlite\n  name: test.db\nradiusd:\n  auth_port: 11812\n  stale_hours: 0\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	t.Setenv("RADBILL_RADIUSD_ACCT_PORT", "11813")
	t.Setenv("RADBILL_LOGGER_MODE", "production")

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 11812, cfg.Radiusd.AuthPort)
	assert.Equal(t, 11813, cfg.Radiusd.AcctPort)
	assert.Equal(t, 4, cfg.Radiusd.StaleHours)
	assert.Equal(t, "production", cfg.Logger.Mode)
	assert.DirExists(t, filepath.Join(dir, "logs"))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/radbill.yml")
	assert.Error(t, err)
}

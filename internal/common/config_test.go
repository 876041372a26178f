package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 3001, config.Server.Port)
	assert.Equal(t, "1291", config.Mantis.QueryID)
	assert.Equal(t, 5, config.Mantis.EnrichConcurrency)
	assert.Equal(t, 3, config.Mantis.ExtractConcurrency)
	assert.Equal(t, 30*time.Minute, config.Mantis.PriorityTTL)
	assert.Equal(t, 5*time.Minute, config.Mantis.PriorityMissTTL)
	assert.Equal(t, time.Hour, config.Jobs.ExtractRetention)
	assert.False(t, config.Scheduler.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilotage.toml")
	content := `
environment = "production"

[server]
port = 8085

[mantis]
base_url = "https://mantis.example.fr"
query_id = "42"

[scheduler]
enabled = true
schedule = "0 0 7 * * 1-5"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, "https://mantis.example.fr", config.Mantis.BaseURL)
	assert.Equal(t, "42", config.Mantis.QueryID)
	assert.True(t, config.Scheduler.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 5, config.Mantis.EnrichConcurrency)
	assert.Equal(t, "./data", config.Storage.DataDir)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	t.Setenv("MANTIS_BASE_URL", "https://mantis.interne.fr")
	t.Setenv("MANTIS_USERNAME", "dashboard")
	t.Setenv("MANTIS_PASSWORD", "secret")
	t.Setenv("PILOTAGE_SERVER_PORT", "9090")

	config, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "https://mantis.interne.fr", config.Mantis.BaseURL)
	assert.Equal(t, "dashboard", config.Mantis.Username)
	assert.Equal(t, 9090, config.Server.Port)
	require.NoError(t, config.Mantis.Validate())
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 8080, "0.0.0.0")
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	// zero values leave the config untouched
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestMantisConfigValidate(t *testing.T) {
	cfg := MantisConfig{}
	require.Error(t, cfg.Validate())

	cfg.BaseURL = "https://mantis.example.fr"
	require.Error(t, cfg.Validate(), "credentials are mandatory")

	cfg.Username = "dashboard"
	cfg.Password = "secret"
	require.NoError(t, cfg.Validate())
}

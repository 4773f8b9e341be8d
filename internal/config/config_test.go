// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  database: shadower
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8, cfg.Processor.Partitions)
	assert.Equal(t, time.Hour, cfg.Baseline.RetrainInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Baseline.RetrainWindow)
	assert.Equal(t, 10.0, cfg.Alerting.PerSecond)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
  log_level: debug
database:
  host: db.internal
  port: 5433
  database: shadower
  user: anomaly
processor:
  partitions: 16
  queue_size: 4096
  debounce_window: 30m
baseline:
  retrain_interval: 2h
  retrain_window: 336h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 16, cfg.Processor.Partitions)
	assert.Equal(t, 30*time.Minute, cfg.Processor.DebounceWindow)
	assert.Equal(t, 14*24*time.Hour, cfg.Baseline.RetrainWindow)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing database host", `
database:
  database: shadower
`},
		{"missing database name", `
database:
  host: localhost
`},
		{"retrain window shorter than interval", `
database:
  host: localhost
  database: shadower
baseline:
  retrain_interval: 24h
  retrain_window: 1h
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHADOWER_PORT", "7070")
	t.Setenv("SHADOWER_DB_HOST", "env-host")
	t.Setenv("SHADOWER_DB_PASSWORD", "secret")

	path := writeConfig(t, `
database:
  host: file-host
  database: shadower
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-host", cfg.Database.Host, "env beats file")
	assert.Equal(t, "secret", cfg.Database.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
database:
  host: localhost
  user: telemetry
  password: secret
storage:
  root: /srv/telemetry
  salt: super-secret-salt
  base_drive_url: http://localhost:8080/drives
`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", config.Database.Host)
	assert.Equal(t, 5432, config.Database.Port)
	assert.Equal(t, "warn", config.Database.LogLevel)
	assert.True(t, config.Database.AutoMigrate)

	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)

	assert.Equal(t, "/srv/telemetry", config.Storage.Root)
	assert.Equal(t, int64(20000), config.Storage.DeviceQuotaMB)
	assert.Equal(t, 30, config.Storage.RetentionDays)

	assert.Equal(t, 5*time.Second, config.Worker.CycleDelay)
	assert.Equal(t, 20*time.Minute, config.Worker.CleanupInterval)
	assert.Equal(t, time.Hour, config.Worker.MaxUptime)
	assert.Equal(t, 15, config.Worker.BatchSize)
	assert.Equal(t, 4, config.Worker.PoolWorkers)
	assert.Equal(t, "ffprobe", config.Worker.ProbeBinary)
	assert.Equal(t, 30*time.Second, config.Worker.ProbeTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
  device_quota_mb: 50000
  retention_days: 7
worker:
  cycle_delay: 10s
  batch_size: 30
  probe_binary: /usr/local/bin/ffprobe
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, int64(50000), config.Storage.DeviceQuotaMB)
	assert.Equal(t, 7, config.Storage.RetentionDays)
	assert.Equal(t, 10*time.Second, config.Worker.CycleDelay)
	assert.Equal(t, 30, config.Worker.BatchSize)
	assert.Equal(t, "/usr/local/bin/ffprobe", config.Worker.ProbeBinary)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMissingSalt(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /srv/telemetry
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.salt")
}

func TestValidate(t *testing.T) {
	valid := Config{}
	valid.Storage.Root = "/srv/telemetry"
	valid.Storage.Salt = "salt"
	valid.Storage.DeviceQuotaMB = 1000
	valid.Storage.RetentionDays = 30
	valid.Worker.BatchSize = 15
	valid.Worker.CycleDelay = 5 * time.Second
	valid.Worker.MaxUptime = time.Hour
	valid.Worker.ProbeTimeout = 30 * time.Second
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing root", func(c *Config) { c.Storage.Root = "" }},
		{"missing salt", func(c *Config) { c.Storage.Salt = "" }},
		{"zero quota", func(c *Config) { c.Storage.DeviceQuotaMB = 0 }},
		{"zero retention", func(c *Config) { c.Storage.RetentionDays = 0 }},
		{"zero batch size", func(c *Config) { c.Worker.BatchSize = 0 }},
		{"zero cycle delay", func(c *Config) { c.Worker.CycleDelay = 0 }},
		{"zero max uptime", func(c *Config) { c.Worker.MaxUptime = 0 }},
		{"zero probe timeout", func(c *Config) { c.Worker.ProbeTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

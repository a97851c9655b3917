package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := New("data-test-missing", "DATATEST", t.TempDir())
	found, err := Read(v)
	require.NoError(t, err)
	assert.False(t, found)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api", cfg.API.URL)
	assert.Equal(t, 60*time.Second, cfg.API.Timeout)
	assert.Equal(t, "1", cfg.API.WeightsKey)
	assert.Equal(t, time.Duration(0), cfg.API.CacheTTL)
	assert.Equal(t, 8090, cfg.Console.Port)
	assert.Equal(t, int64(10<<20), cfg.Console.UploadLimitBytes)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 3, cfg.Health.FailThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datactl.yaml"), []byte(`
api:
  url: https://data.example.com/api
  timeout: 5s
console:
  port: 9000
  cors_origins:
    - https://console.example.com
`), 0o644))
	t.Setenv("DATATEST_API_WEIGHTS_KEY", "weights")
	t.Setenv("DATATEST_HEALTH_FAIL_THRESHOLD", "5")

	v := New("datactl", "DATATEST", dir)
	found, err := Read(v)
	require.NoError(t, err)
	assert.True(t, found)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "https://data.example.com/api", cfg.API.URL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "weights", cfg.API.WeightsKey)
	assert.Equal(t, 9000, cfg.Console.Port)
	assert.Equal(t, []string{"https://console.example.com"}, cfg.Console.CORSOrigins)
	assert.Equal(t, 5, cfg.Health.FailThreshold)
}

func TestReadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datactl.yaml"), []byte("api: [unclosed"), 0o644))
	_, err := Read(New("datactl", "DATATEST", dir))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	v := New("none", "DATATEST")
	base, err := FromViper(v)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative url", func(c *Config) { c.API.URL = "localhost:8000" }},
		{"empty weights key", func(c *Config) { c.API.WeightsKey = " " }},
		{"port", func(c *Config) { c.Console.Port = 0 }},
		{"upload limit", func(c *Config) { c.Console.UploadLimitBytes = 0 }},
		{"interval", func(c *Config) { c.Health.Interval = 0 }},
		{"threshold", func(c *Config) { c.Health.FailThreshold = 0 }},
	}
	for _, tt := range tests {
		cfg := base
		tt.mutate(&cfg)
		assert.Error(t, cfg.Validate(), tt.name)
	}
}

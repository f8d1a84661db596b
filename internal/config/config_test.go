package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Kind)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 2*time.Second, cfg.FetchPause())
	assert.Equal(t, 60*time.Second, cfg.RetryBase())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"storage": {"kind": "postgres", "dsn": "postgresql://localhost/datadock"},
		"jobs": {"workers": 4, "max_attempts": 5},
		"logging": {"format": "json", "level": "debug"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 5, cfg.Jobs.MaxAttempts)
	assert.Equal(t, "json", cfg.Logging.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Fetcher.Attempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATADOCK_STORAGE_KIND", "postgres")
	t.Setenv("DATADOCK_DSN", "postgresql://env/dd")
	t.Setenv("DATADOCK_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, "postgresql://env/dd", cfg.Storage.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"postgres without dsn", func(c *Config) { c.Storage = Storage{Kind: "postgres"} }, false},
		{"unknown kind", func(c *Config) { c.Storage.Kind = "etcd" }, false},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, false},
		{"negative attempts", func(c *Config) { c.Jobs.MaxAttempts = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10000, cfg.Engine.MaxMetrics)
	assert.Equal(t, 1000, cfg.Engine.MaxSuggestions)
	assert.Equal(t, 5*time.Second, cfg.Engine.NPlusOneWindow)
	assert.Equal(t, 10, cfg.Engine.NPlusOneThreshold)
	assert.InDelta(t, 0.80, cfg.Engine.MemoryPressureThreshold, 0.001)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.True(t, cfg.Monitoring.Enabled)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log_level: debug
engine:
  slow_query_ms: 250
  n_plus_one_threshold: 5
cache:
  default_ttl: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 250, cfg.Engine.SlowQueryMs, 0.001)
	assert.Equal(t, 5, cfg.Engine.NPlusOneThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)

	// Untouched fields keep their defaults.
	assert.Equal(t, 10000, cfg.Engine.MaxMetrics)
	assert.Equal(t, ":9187", cfg.Monitoring.ListenAddr)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("engine: [not a map"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero max metrics", mutate: func(c *Config) { c.Engine.MaxMetrics = 0 }},
		{name: "zero max query length", mutate: func(c *Config) { c.Engine.MaxQueryLength = 0 }},
		{name: "zero max suggestions", mutate: func(c *Config) { c.Engine.MaxSuggestions = 0 }},
		{name: "zero detection window", mutate: func(c *Config) { c.Engine.NPlusOneWindow = 0 }},
		{name: "threshold of one", mutate: func(c *Config) { c.Engine.NPlusOneThreshold = 1 }},
		{name: "critical below slow", mutate: func(c *Config) { c.Engine.CriticalQueryMs = c.Engine.SlowQueryMs / 2 }},
		{name: "pressure above one", mutate: func(c *Config) { c.Engine.MemoryPressureThreshold = 1.5 }},
		{name: "zero cache entries", mutate: func(c *Config) { c.Cache.MaxEntries = 0 }},
		{name: "enabled monitoring without addr", mutate: func(c *Config) { c.Monitoring.ListenAddr = "" }},
		{name: "enabled monitoring without interval", mutate: func(c *Config) { c.Monitoring.StatsInterval = 0 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDisabledMonitoringSkipsServerChecks(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Monitoring.Enabled = false
	cfg.Monitoring.ListenAddr = ""
	cfg.Monitoring.StatsInterval = 0
	assert.NoError(t, cfg.Validate())
}

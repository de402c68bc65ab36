package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	w, err := NewWatcher(zap.NewNop(), path)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	defer w.Stop()

	var reloaded atomic.Pointer[Config]
	require.NoError(t, w.Start(func(cfg *Config) {
		reloaded.Store(cfg)
	}))

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nengine:\n  slow_query_ms: 333\n"), 0o644))

	assert.Eventually(t, func() bool {
		cfg := reloaded.Load()
		return cfg != nil && cfg.LogLevel == "debug" && cfg.Engine.SlowQueryMs == 333
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	w, err := NewWatcher(zap.NewNop(), path)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	defer w.Stop()

	var calls atomic.Int64
	require.NoError(t, w.Start(func(*Config) { calls.Add(1) }))

	// Invalid config: the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  max_metrics: -1\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 0, calls.Load())
}

func TestWatcherStartTwice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	w, err := NewWatcher(zap.NewNop(), path)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Start(nil))
	assert.Error(t, w.Start(nil))
}

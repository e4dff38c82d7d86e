package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smellsync/pkg/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smellsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	tuning, err := cfg.EngineTuning()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultTuning(), tuning)
}

func TestLoadEmptyPathSkipsFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Logging.Debug)
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
tuning:
  debounce_window: 100ms
  fresh_for: 1m
  retry_attempts: 5
  prefetch_neighbors: false
logging:
  debug: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Logging.Debug)

	tuning, err := cfg.EngineTuning()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, tuning.DebounceWindow)
	assert.Equal(t, time.Minute, tuning.FreshFor)
	assert.Equal(t, 5, tuning.RetryAttempts)
	assert.False(t, tuning.PrefetchNeighbors)

	// Unset fields keep their stock values.
	assert.Equal(t, engine.DefaultTuning().Retention, tuning.Retention)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "tuning: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
tuning:
  debounce_window: 100ms
`)
	t.Setenv("SMELLSYNC_DEBOUNCE_WINDOW", "50ms")
	t.Setenv("SMELLSYNC_DEBUG", "true")
	t.Setenv("SMELLSYNC_RETRY_ATTEMPTS", "7")
	t.Setenv("SMELLSYNC_PREFETCH_NEIGHBORS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Logging.Debug)

	tuning, err := cfg.EngineTuning()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, tuning.DebounceWindow)
	assert.Equal(t, 7, tuning.RetryAttempts)
	assert.False(t, tuning.PrefetchNeighbors)
}

func TestEngineTuningRejectsBadDuration(t *testing.T) {
	cfg := Config{Tuning: TuningConfig{FreshFor: "soon"}}
	_, err := cfg.EngineTuning()
	assert.ErrorContains(t, err, "tuning.fresh_for")
}

func newTestWatcher(t *testing.T, path string, onChange func(Config)) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, nil, onChange)
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherDeliversReload(t *testing.T) {
	path := writeConfig(t, "tuning:\n  debounce_window: 100ms\n")

	reloaded := make(chan Config, 1)
	newTestWatcher(t, path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  debounce_window: 75ms\n"), 0o644))

	select {
	case cfg := <-reloaded:
		tuning, err := cfg.EngineTuning()
		require.NoError(t, err)
		assert.Equal(t, 75*time.Millisecond, tuning.DebounceWindow)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never delivered the reload")
	}
}

func TestWatcherRapidWritesDeliverFinalContent(t *testing.T) {
	path := writeConfig(t, "tuning:\n  debounce_window: 100ms\n")

	var mu sync.Mutex
	var windows []time.Duration
	newTestWatcher(t, path, func(cfg Config) {
		tuning, err := cfg.EngineTuning()
		require.NoError(t, err)
		mu.Lock()
		windows = append(windows, tuning.DebounceWindow)
		mu.Unlock()
	})

	// An editor save burst: two writes inside the debounce window. Only the
	// content of the last write may be loaded.
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  debounce_window: 200ms\n"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  debounce_window: 300ms\n"), 0o644))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(windows)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, windows, "final write never loaded")
	assert.Equal(t, 300*time.Millisecond, windows[len(windows)-1],
		"reload must reflect the last write of the burst")
	assert.NotContains(t, windows, 200*time.Millisecond,
		"intermediate content must be debounced away")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smellsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  debug: false\n"), 0o644))

	reloaded := make(chan Config, 1)
	newTestWatcher(t, path, func(cfg Config) { reloaded <- cfg })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file must not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

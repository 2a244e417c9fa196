package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnBeadsChange(t *testing.T) {
	dir := t.TempDir()
	var beadsFired, configFired atomic.Int32

	w, err := New(dir, "", func() { beadsFired.Add(1) }, func() { configFired.Add(1) }, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "issue.json"), []byte("{}"), 0644))

	require.Eventually(t, func() bool { return beadsFired.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(0), configFired.Load())
}

func TestWatcherFiresOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("max_concurrent_workcells: 3\n"), 0644))

	var beadsFired, configFired atomic.Int32
	w, err := New("", configPath, func() { beadsFired.Add(1) }, func() { configFired.Add(1) }, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(configPath, []byte("max_concurrent_workcells: 5\n"), 0644))

	require.Eventually(t, func() bool { return configFired.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(0), beadsFired.Load())
}

func TestWatcherDebouncesBurstsIntoOneCallback(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32

	w, err := New(dir, "", func() { fired.Add(1) }, nil, nil)
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "issue.json"), []byte("{}"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

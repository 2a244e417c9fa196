// Package watch wakes the Runner's poll loop early on bead-store changes
// and reloads config.yaml on write, instead of waiting for the next tick
// interval or a SIGHUP. Debouncing and the fsnotify event loop follow the
// gh-aw compiler's watch-mode CLI.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher fires OnBeadsChanged when anything under the watched beads
// directory changes, and OnConfigChanged when the watched config file is
// written. Either callback may be nil.
type Watcher struct {
	fsw             *fsnotify.Watcher
	configPath      string
	debounce        time.Duration
	logger          *slog.Logger
	onBeadsChanged  func()
	onConfigChanged func()
}

// New creates a Watcher on beadsDir and configPath. configPath may be empty
// to skip config hot-reload.
func New(beadsDir, configPath string, onBeadsChanged, onConfigChanged func(), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	if beadsDir != "" {
		if err := fsw.Add(beadsDir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: watch beads dir %q: %w", beadsDir, err)
		}
	}
	if configPath != "" {
		if err := fsw.Add(configPath); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: watch config %q: %w", configPath, err)
		}
	}

	return &Watcher{
		fsw:             fsw,
		configPath:      configPath,
		debounce:        defaultDebounce,
		logger:          logger,
		onBeadsChanged:  onBeadsChanged,
		onConfigChanged: onConfigChanged,
	}, nil
}

// Close releases the underlying OS watch handles.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run processes fsnotify events until ctx is cancelled or the watcher's
// channels close. Bursts of events within the debounce window collapse
// into a single callback invocation.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		mu              sync.Mutex
		beadsPending    bool
		configPending   bool
		debounceTimer   *time.Timer
	)

	flush := func() {
		mu.Lock()
		fireBeads, fireConfig := beadsPending, configPending
		beadsPending, configPending = false, false
		mu.Unlock()

		if fireBeads && w.onBeadsChanged != nil {
			w.onBeadsChanged()
		}
		if fireConfig && w.onConfigChanged != nil {
			w.onConfigChanged()
		}
	}

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: event channel closed")
			}
			if event.Has(fsnotify.Chmod) {
				continue
			}

			mu.Lock()
			if w.configPath != "" && event.Name == w.configPath {
				configPending = true
			} else {
				beadsPending = true
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, flush)
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: error channel closed")
			}
			if w.logger != nil {
				w.logger.Warn("watch: fsnotify error", "error", err)
			}

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil
		}
	}
}

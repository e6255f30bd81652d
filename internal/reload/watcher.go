// Package reload re-reads configuration files when they change on disk.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events a single save produces
const DefaultDebounce = 250 * time.Millisecond

// Func reloads one file. An error keeps whatever was loaded before.
type Func func() error

// Watcher calls a reload Func when its file is written or replaced
type Watcher struct {
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger

	mu      sync.Mutex
	targets map[string]Func
	timers  map[string]*time.Timer
	dirs    map[string]bool
	closed  bool
}

// New creates a watcher. Files are added with Add and watched once Run starts.
func New(debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		debounce: debounce,
		watcher:  fw,
		logger:   logger.With().Str("component", "reload").Logger(),
		targets:  make(map[string]Func),
		timers:   make(map[string]*time.Timer),
		dirs:     make(map[string]bool),
	}, nil
}

// Add watches path. The parent directory is watched so editors that save by
// renaming a temp file over path are picked up too.
func (w *Watcher) Add(path string, fn Func) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.targets[abs] = fn
	w.logger.Debug().Str("file", abs).Msg("watching file")
	return nil
}

// Run dispatches file events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.schedule(filepath.Clean(ev.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn, ok := w.targets[path]
	if !ok || w.closed {
		return
	}
	if t := w.timers[path]; t != nil {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.fire(path, fn) })
}

func (w *Watcher) fire(path string, fn Func) {
	w.mu.Lock()
	closed := w.closed
	delete(w.timers, path)
	w.mu.Unlock()
	if closed {
		return
	}

	if err := fn(); err != nil {
		w.logger.Warn().Err(err).Str("file", path).Msg("reload failed, keeping previous version")
		return
	}
	w.logger.Info().Str("file", path).Msg("file reloaded")
}

func (w *Watcher) close() {
	w.mu.Lock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

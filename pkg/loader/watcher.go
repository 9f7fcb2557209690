package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/symgraph/pkg/telemetry"
)

// DefaultReloadDelay is how long the watcher waits for changes to settle.
const DefaultReloadDelay = 500 * time.Millisecond

// ReloadFunc is called after watched files change. It returns the number of
// nodes of the reloaded graph.
type ReloadFunc func(ctx context.Context, changed string) (int, error)

// Watcher re-runs a reload function when graph or feed files change.
type Watcher struct {
	logger  zerolog.Logger
	events  *telemetry.EventPublisher
	delay   time.Duration
	watcher *fsnotify.Watcher

	// files are watched file paths; dirs are watched CUE package directories.
	files map[string]bool
	dirs  map[string]bool

	mu       sync.Mutex
	reloadMu sync.Mutex
	timer    *time.Timer
	stopped  bool
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets the debounce delay.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithEvents publishes a GraphReloaded event after every successful reload.
func WithEvents(events *telemetry.EventPublisher) WatcherOption {
	return func(w *Watcher) {
		w.events = events
	}
}

// NewWatcher creates a watcher.
func NewWatcher(logger zerolog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		logger: logger.With().Str("component", "graph-watcher").Logger(),
		delay:  DefaultReloadDelay,
		files:  make(map[string]bool),
		dirs:   make(map[string]bool),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching paths and calls reloadFn once changes settle. Files
// are watched through their parent directory so that editors replacing a
// file are noticed. Watching stops when ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context, paths []string, reloadFn ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	watchedDirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		dir := filepath.Dir(abs)
		if info.IsDir() {
			dir = abs
			w.dirs[abs] = true
		} else {
			w.files[abs] = true
		}
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		watchedDirs[dir] = true
	}

	go w.processEvents(ctx, reloadFn)

	w.logger.Info().
		Int("paths", len(paths)).
		Dur("delay", w.delay).
		Msg("Started watching graph files")

	return nil
}

// relevant reports whether an event path is one of the watched files or a
// CUE file inside a watched directory.
func (w *Watcher) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	return w.dirs[filepath.Dir(abs)] && strings.HasSuffix(abs, ".cue")
}

func (w *Watcher) processEvents(ctx context.Context, reloadFn ReloadFunc) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.relevant(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Graph file changed")

			changed := event.Name
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			if !w.stopped {
				w.timer = time.AfterFunc(w.delay, func() {
					w.triggerReload(ctx, changed, reloadFn)
				})
			}
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) triggerReload(ctx context.Context, changed string, reloadFn ReloadFunc) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped || ctx.Err() != nil {
		return
	}

	w.logger.Info().Str("file", changed).Msg("Reloading graph")
	nodes, err := reloadFn(ctx, changed)
	if err != nil {
		w.logger.Error().Err(err).Str("file", changed).Msg("Failed to reload graph")
		return
	}
	if err := w.events.PublishGraphReloaded(changed, nodes); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to publish reload event")
	}
}

// Stop stops watching. Pending reloads are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Done is closed when the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

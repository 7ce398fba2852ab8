package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"
)

// Change is a batch of filesystem changes below the watched root.
type Change struct {
	Paths []string
	At    time.Time
}

// String implements lifecycle.Event.
func (c Change) String() string {
	return fmt.Sprintf("content changed (%d paths)", len(c.Paths))
}

// WatcherConfig holds the configuration of a Watcher.
type WatcherConfig struct {
	Root     string
	Debounce time.Duration // default 100ms
	// Ignore lists directories whose changes are not reported, e.g. the
	// output and cache directories when they live below Root.
	Ignore       []string
	Logger       *slog.Logger
	ErrorHandler func(error)
}

// Watcher reports batches of changes in a content directory.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger
	ignore []string
	active atomic.Bool
}

// NewWatcher creates a watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ignore := make([]string, 0, len(cfg.Ignore))
	for _, dir := range cfg.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			ignore = append(ignore, abs)
		}
	}
	return &Watcher{cfg: cfg, logger: logger, ignore: ignore}
}

// Active reports whether the watch loop is running.
func (w *Watcher) Active() bool {
	return w.active.Load()
}

// Watch starts watching and returns the channel of change batches. The
// channel is closed once ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.addRecursive(watcher, w.cfg.Root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan Change, 1)
	deb := newDebouncer(w.cfg.Debounce, func(paths []string) {
		select {
		case out <- Change{Paths: paths, At: time.Now()}:
		case <-ctx.Done():
		}
	})

	w.active.Store(true)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		defer w.active.Store(false)
		defer watcher.Close()
		// Stop the debouncer before closing out, so no batch is sent on a
		// closed channel.
		defer deb.stopAndWait()

		return w.run(ctx, watcher, deb)
	}, lifecycle.WithErrorHandler(w.handleError))

	return out, nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher, deb *debouncer) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if w.logger.Enabled(ctx, slog.LevelDebug) {
				w.logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				w.logger.Error("watcher panic", "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.process(watcher, deb, event)

		case wErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", wErr)
			if w.cfg.ErrorHandler != nil {
				w.cfg.ErrorHandler(wErr)
			}
		}
	}
}

func (w *Watcher) process(watcher *fsnotify.Watcher, deb *debouncer, event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(watcher, event.Name); err != nil {
				w.logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	w.logger.Debug("event received", "name", event.Name, "op", event.Op.String())
	deb.add(event.Name)
}

func (w *Watcher) ignored(path string) bool {
	if isScratch(filepath.Base(path)) {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range w.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || w.ignored(path)) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) handleError(err error) {
	if w.cfg.ErrorHandler != nil {
		w.cfg.ErrorHandler(fmt.Errorf("watcher: %w", err))
		return
	}
	w.logger.Error("watcher failed", "error", err)
}

// debouncer collects paths and fires once no new path arrived for delay.
type debouncer struct {
	delay time.Duration
	fire  func(paths []string)

	mu       sync.Mutex
	pending  map[string]bool
	timer    *time.Timer
	stopped  bool
	inflight sync.WaitGroup
}

func newDebouncer(delay time.Duration, fire func(paths []string)) *debouncer {
	return &debouncer{delay: delay, fire: fire, pending: make(map[string]bool)}
}

func (d *debouncer) add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending[path] = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]bool)
	d.inflight.Add(1)
	d.mu.Unlock()

	defer d.inflight.Done()
	sort.Strings(paths)
	d.fire(paths)
}

// stopAndWait drops pending paths and waits for an in-flight batch.
func (d *debouncer) stopAndWait() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.inflight.Wait()
}

// Package watch turns file system changes into reconcile triggers.
//
// The watcher observes the desired-state sources named in
// reconcile.watch_paths (a SQLite database file, a directory of seed
// files, the dynamic directory itself to undo out-of-band edits) and
// calls back after a quiet period. Hidden files are ignored, which also
// keeps the writer's temporary and lock files from re-triggering.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"netpilot-hq/netpilot/pkg/config"
)

// Config contains the watcher settings.
type Config struct {
	// Paths are files or directories. Directories are watched recursively.
	Paths []string

	// Debounce is the quiet period before the callback runs.
	Debounce time.Duration

	// Extensions limits directory events to these file extensions.
	// Empty accepts every file.
	Extensions []string

	// SkipHidden ignores files and directories starting with a dot.
	SkipHidden bool
}

// ConfigFrom builds a Config from the reconcile section.
func ConfigFrom(cfg *config.ReconcileConfig) Config {
	return Config{
		Paths:      cfg.WatchPaths,
		Debounce:   cfg.WatchDebounce,
		SkipHidden: true,
	}
}

// fileSuffixes are companions of a watched file that signal a change to
// it, such as SQLite's write-ahead log.
var fileSuffixes = []string{"", "-wal", "-journal"}

// Watcher watches paths and reports changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	config   Config
	debounce *Debouncer

	// files are watched through their parent directory; only events for
	// these paths pass.
	files map[string]bool
	// dirs are the roots watched recursively.
	dirs map[string]bool

	changes atomic.Int64

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a watcher for cfg.Paths.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("no watch paths configured")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = config.DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default().With("component", "watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		logger:   logger,
		config:   cfg,
		debounce: NewDebouncer(cfg.Debounce),
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Changes returns the number of accepted events.
func (w *Watcher) Changes() int64 {
	return w.changes.Load()
}

// Watch blocks until ctx is cancelled or Stop is called. onChange runs
// after each burst of accepted events; its errors are logged.
func (w *Watcher) Watch(ctx context.Context, onChange func(ctx context.Context) error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.debounce.Stop()
		_ = w.watcher.Close()
		close(w.doneCh)
	}()

	for _, p := range w.config.Paths {
		if err := w.addPath(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	w.logger.Info("drift watcher started",
		"paths", w.config.Paths,
		"debounce_ms", w.config.Debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("drift watcher stopped")
			return nil

		case <-w.stopCh:
			w.logger.Info("drift watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			w.handle(ctx, event, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event, onChange func(ctx context.Context) error) {
	if event.Has(fsnotify.Create) && w.underDir(event.Name) {
		if isDir, _ := isDirectory(event.Name); isDir && !w.hidden(event.Name) {
			if err := w.addDirectory(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	if !w.accept(event) {
		return
	}
	w.changes.Add(1)
	w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())

	w.debounce.Trigger(func() {
		w.logger.Info("desired state changed, triggering reconcile", "path", event.Name, "op", event.Op.String())
		if err := onChange(ctx); err != nil {
			w.logger.Error("change handler failed", "error", err)
		}
	})
}

// Stop ends Watch and waits for it to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopCh) })
	if !running {
		return w.watcher.Close()
	}
	<-w.doneCh
	return nil
}

func (w *Watcher) addPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	isDir, err := isDirectory(abs)
	if err != nil {
		return err
	}
	if isDir {
		w.dirs[abs] = true
		return w.addDirectory(abs)
	}

	// Editors and SQLite replace files, so the parent is watched.
	for _, suffix := range fileSuffixes {
		w.files[abs+suffix] = true
	}
	return w.watcher.Add(filepath.Dir(abs))
}

func (w *Watcher) addDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.hidden(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %q: %w", path, err)
		}
		w.logger.Debug("watching directory", "path", path)
		return nil
	})
}

// accept reports whether event is a change of a watched file.
func (w *Watcher) accept(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(event.Name)
	if w.files[name] {
		return true
	}
	if !w.underDir(name) || w.hidden(name) {
		return false
	}
	if len(w.config.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range w.config.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}

func (w *Watcher) underDir(name string) bool {
	for dir := range w.dirs {
		if strings.HasPrefix(name, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) hidden(path string) bool {
	return w.config.SkipHidden && strings.HasPrefix(filepath.Base(path), ".")
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

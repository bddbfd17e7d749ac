// Package watch re-runs an action when catalog items below a data directory
// change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/bnloader/internal/catalog"
)

// DefaultDebounce is the quiet period after the last event before the action runs.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors the catalog items of one data directory
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   func(rel string) bool
	logger   *slog.Logger
}

// New creates a Watcher. ignore may be nil; it receives slash-separated paths
// relative to root.
func New(root string, debounce time.Duration, ignore func(rel string) bool, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if ignore == nil {
		ignore = func(string) bool { return false }
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		ignore:   ignore,
		logger:   logger,
	}
}

// Run calls fn after every burst of relevant changes until ctx is cancelled.
// Errors returned by fn are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	for _, name := range catalog.Names() {
		if err := w.addTree(watcher, filepath.Join(w.root, name)); err != nil {
			return err
		}
	}

	w.logger.Info("watching for changes", "root", w.root)

	// stopped until the first relevant event; Reset never delivers a stale tick
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.handle(watcher, event) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)

		case <-timer.C:
			w.logger.Info("change detected, running")
			if err := fn(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				w.logger.Error("run after change failed", "error", err)
			}
		}
	}
}

// handle registers new directories and reports whether event is relevant.
func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	rel, ok := w.Relevant(event.Name)
	if !ok {
		return false
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(watcher, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", rel, "error", err)
			}
		}
	}

	w.logger.Debug("change", "path", rel, "op", event.Op.String())
	return true
}

// Relevant maps an absolute path to its relative form and reports whether it
// belongs to a catalog item and is not ignored.
func (w *Watcher) Relevant(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	top, _, _ := strings.Cut(rel, "/")
	if _, ok := catalog.Lookup(top); !ok {
		return "", false
	}
	if w.ignore(rel) {
		return "", false
	}
	return rel, true
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable directory", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.Relevant(path); !ok {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to add watch for %q: %w", path, err)
		}
		return nil
	})
}

package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/bnloader/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRelevant(t *testing.T) {
	root := t.TempDir()
	w := New(root, 0, func(rel string) bool { return strings.HasSuffix(rel, ".pyc") }, testLogger())

	tests := []struct {
		path string
		rel  string
		ok   bool
	}{
		{path: filepath.Join(root, "plugins", "a.py"), rel: "plugins/a.py", ok: true},
		{path: filepath.Join(root, "settings.json"), rel: "settings.json", ok: true},
		{path: filepath.Join(root, "plugins", "a.pyc"), ok: false},
		{path: filepath.Join(root, "license.dat"), ok: false},
		{path: filepath.Join(root, "lastrun"), ok: false},
		{path: root, ok: false},
		{path: filepath.Join(filepath.Dir(root), "elsewhere"), ok: false},
	}
	for _, tt := range tests {
		rel, ok := w.Relevant(tt.path)
		if ok != tt.ok || rel != tt.rel {
			t.Errorf("Relevant(%s) = %q, %v; want %q, %v", tt.path, rel, ok, tt.rel, tt.ok)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	w := New(t.TempDir(), 0, nil, testLogger())
	if w.debounce != DefaultDebounce {
		t.Errorf("expected default debounce, got %v", w.debounce)
	}
	if w.ignore("anything") {
		t.Error("expected nil ignore to ignore nothing")
	}
}

func TestRunTriggersOnChange(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"plugins/a.py": "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs := make(chan struct{}, 10)
	done := make(chan error, 1)
	w := New(root, 50*time.Millisecond, nil, testLogger())
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			runs <- struct{}{}
			return nil
		})
	}()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)

	// a burst of writes collapses into one run
	for i := 0; i < 3; i++ {
		testutil.WriteTree(t, root, map[string]string{"plugins/a.py": strings.Repeat("x", i+1)})
	}

	select {
	case <-runs:
	case <-ctx.Done():
		t.Fatal("timed out waiting for run")
	}

	// new directories are watched too
	testutil.WriteTree(t, root, map[string]string{"plugins/new/": ""})
	time.Sleep(200 * time.Millisecond)
	drain(runs)
	testutil.WriteTree(t, root, map[string]string{"plugins/new/b.py": "b"})

	select {
	case <-runs:
	case <-ctx.Done():
		t.Fatal("timed out waiting for run in new directory")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunIgnoresNonCatalogFiles(t *testing.T) {
	root := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan struct{}, 10)
	w := New(root, 20*time.Millisecond, nil, testLogger())
	go func() {
		_ = w.Run(ctx, func(context.Context) error {
			runs <- struct{}{}
			return nil
		})
	}()

	time.Sleep(200 * time.Millisecond)
	testutil.WriteTree(t, root, map[string]string{"lastrun": "1", "license.dat": "x"})
	time.Sleep(300 * time.Millisecond)

	if len(runs) != 0 {
		t.Errorf("expected no runs for non-catalog files, got %d", len(runs))
	}
}

func TestRunMissingRoot(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), 0, nil, testLogger())
	if err := w.Run(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for missing root")
	}
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

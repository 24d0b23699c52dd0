package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semdex/semdex/scanner"
)

func newTestWatcher(t *testing.T, root string, ignorePatterns []string) *Watcher {
	t.Helper()
	matcher, err := scanner.NewIgnoreMatcher(root, ignorePatterns)
	if err != nil {
		t.Fatalf("NewIgnoreMatcher: %v", err)
	}
	w, err := New(root, matcher, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func collectEvents(w *Watcher, timeout time.Duration) []FileEvent {
	var events []FileEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-w.Events():
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

func TestWatcherReportsWrites(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := collectEvents(w, 500*time.Millisecond)
	if len(events) == 0 {
		t.Fatal("no events for new file")
	}
	found := false
	for _, ev := range events {
		if ev.Path == "a.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("no event for a.txt, got %+v", events)
	}
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "burst.txt")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := newTestWatcher(t, root, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := os.WriteFile(path, []byte("version"), 0o644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	events := collectEvents(w, 500*time.Millisecond)
	count := 0
	for _, ev := range events {
		if ev.Path == "burst.txt" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d events for burst.txt, want 1 debounced event", count)
	}
}

func TestWatcherIgnoresConfiguredPatterns(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w := newTestWatcher(t, root, []string{"node_modules"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := collectEvents(w, 300*time.Millisecond)
	for _, ev := range events {
		if filepath.ToSlash(ev.Path) == "node_modules/dep.js" {
			t.Errorf("event for ignored path: %+v", ev)
		}
	}
}

func TestWatcherCloseCancelsPendingDebounce(t *testing.T) {
	root := t.TempDir()
	matcher, err := scanner.NewIgnoreMatcher(root, nil)
	if err != nil {
		t.Fatalf("NewIgnoreMatcher: %v", err)
	}
	w, err := New(root, matcher, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "late.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Let the write reach the watcher and arm the debounce timer, then close
	// before the window elapses.
	time.Sleep(50 * time.Millisecond)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := collectEvents(w, 400*time.Millisecond)
	if len(events) != 0 {
		t.Errorf("events delivered after Close: %+v", events)
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub := filepath.Join(root, "newdir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := collectEvents(w, 500*time.Millisecond)
	found := false
	for _, ev := range events {
		if filepath.ToSlash(ev.Path) == "newdir/inner.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("no event for file in new directory, got %+v", events)
	}
}

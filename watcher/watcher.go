// Package watcher raises debounced filesystem events for one folder. The
// lifecycle orchestrator treats every event as a hint to rescan, so the
// watcher only has to be prompt, not precise.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/semdex/semdex/scanner"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	case EventRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced change under the watched folder. Path is
// relative to the folder root.
type FileEvent struct {
	Type EventType
	Path string
}

// Watcher wraps fsnotify with recursive directory registration and
// per-path debouncing.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	ignore   *scanner.IgnoreMatcher
	debounce time.Duration
	events   chan FileEvent
	done     chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
}

func New(root string, ignore *scanner.IgnoreMatcher, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		fsw:      fsw,
		ignore:   ignore,
		debounce: debounce,
		events:   make(chan FileEvent, 128),
		done:     make(chan struct{}),
		pending:  make(map[string]FileEvent),
	}, nil
}

// Start registers the folder tree and begins delivering events until the
// context ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Close stops event delivery and cancels the pending debounce flush, so no
// events arrive after it returns.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.pending = make(map[string]FileEvent)
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if rel != "." {
			base := filepath.Base(rel)
			if base == ".git" || base == ".semdex" || w.ignore.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			log.Printf("watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return
	}
	if w.ignore.ShouldIgnore(rel) {
		return
	}

	// A created directory needs its own watch before events inside it
	// can arrive.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				log.Printf("watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	var evType EventType
	switch {
	case event.Has(fsnotify.Create):
		evType = EventCreate
	case event.Has(fsnotify.Write):
		evType = EventModify
	case event.Has(fsnotify.Remove):
		evType = EventDelete
	case event.Has(fsnotify.Rename):
		evType = EventRename
	default:
		return
	}

	w.enqueue(FileEvent{Type: evType, Path: rel})
}

// enqueue merges events per path and arms the debounce timer. A delete
// followed quickly by a create stays a delete; the rescan sorts it out.
func (w *Watcher) enqueue(event FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[event.Path]; !ok || existing.Type != EventDelete || event.Type == EventDelete {
		w.pending[event.Path] = event
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	events := make([]FileEvent, 0, len(w.pending))
	for _, event := range w.pending {
		events = append(events, event)
	}
	w.pending = make(map[string]FileEvent)
	w.mu.Unlock()

	for _, event := range events {
		select {
		case w.events <- event:
		default:
			log.Printf("event channel full, dropping %s %s", event.Type, event.Path)
		}
	}
}

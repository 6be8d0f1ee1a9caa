package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree with fsnotify. New directories are added
// to the watch set as they appear.
type Watcher struct {
	root      string
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent

	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// New creates a watcher for root and registers every non-filtered directory.
func New(root string, opts Options) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      absRoot,
		opts:      opts,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
	}
	if err := w.addRecursive(absRoot); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("add directories to watcher: %w", err)
	}
	return w, nil
}

// Run pumps events until ctx is cancelled or Close is called. It closes
// the watcher before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.Close() }()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for batch := range w.debouncer.Output() {
			w.emit(batch)
		}
	}()
	defer func() { <-forwardDone }()

	for {
		select {
		case <-ctx.Done():
			w.debouncer.Stop()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				w.debouncer.Stop()
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.debouncer.Stop()
				return nil
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if w.filtered(rel, isDir) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("watcher_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return // chmod
	}

	if path.Base(rel) == ".gitignore" {
		op = OpGitignoreChange
	}

	w.debouncer.Add(FileEvent{
		Path:      rel,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) filtered(rel string, isDir bool) bool {
	return w.opts.Filter != nil && w.opts.Filter(rel, isDir)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, p)
		if rel != "." && w.filtered(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("watcher_buffer_full",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

// Events returns batches of debounced events. Closed by Close.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// DroppedBatches returns how many batches were dropped on a full buffer.
func (w *Watcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}

// Close releases the fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	w.debouncer.Stop()
	err := w.fsw.Close()
	close(w.events)
	return err
}

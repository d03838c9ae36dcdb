package pricing

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Loader owns the current pricing snapshot and hot-reloads it when the
// pricing file changes on disk.
//
// Readers call Table and get an immutable snapshot; a reload builds a new
// Table and swaps the pointer atomically, so in-flight requests keep pricing
// consistent for their whole lifetime. A reload that fails to parse keeps
// the previous snapshot in place.
type Loader struct {
	path    string
	table   atomic.Pointer[Table]
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex // serializes Reload
	done    chan struct{}
	stopped sync.Once
}

// NewLoader loads the pricing file once and returns a loader holding the
// initial snapshot. Call Watch to enable hot reload.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{
		path:   path,
		logger: slog.Default().With("component", "pricing.loader"),
		done:   make(chan struct{}),
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewStaticLoader wraps an existing table without file backing.
// Used by tests and embedded callers.
func NewStaticLoader(table *Table) *Loader {
	l := &Loader{
		logger: slog.Default().With("component", "pricing.loader"),
		done:   make(chan struct{}),
	}
	l.table.Store(table)
	return l
}

// Table returns the current immutable pricing snapshot.
func (l *Loader) Table() *Table {
	return l.table.Load()
}

// Reload re-reads the pricing file and swaps in the new snapshot.
// On parse failure the previous snapshot stays active.
func (l *Loader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("reading pricing file %q: %w", l.path, err)
	}

	table, err := ParseTable(data)
	if err != nil {
		return fmt.Errorf("pricing file %q: %w", l.path, err)
	}

	l.table.Store(table)
	l.logger.Info("pricing table loaded",
		"path", l.path,
		"version", table.Version(),
		"providers", len(table.Providers()),
	)
	return nil
}

// Watch starts watching the pricing file for changes and reloads on write.
// Watching the parent directory survives editors that replace the file.
func (l *Loader) Watch() error {
	if l.path == "" {
		return fmt.Errorf("loader has no file backing")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating pricing watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching pricing directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	target := filepath.Clean(l.path)

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := l.Reload(); err != nil {
				l.logger.Error("pricing reload failed, keeping previous snapshot",
					"path", l.path,
					"error", err,
				)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("pricing watcher error", "error", err)

		case <-l.done:
			return
		}
	}
}

// Close stops the watcher, if any.
func (l *Loader) Close() error {
	l.stopped.Do(func() { close(l.done) })
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

package detect

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the signature catalog from a JSON file on disk.
// The file uses the same envelope as the persisted snapshot.
type Watcher struct {
	catalog *Catalog
	path    string
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads the file once and begins watching it for changes.
func NewWatcher(catalog *Catalog, path string) (*Watcher, error) {
	w := &Watcher{catalog: catalog, path: path, done: make(chan struct{})}
	if err := w.load(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// watch the directory: editors replace files, which drops a watch on
	// the file itself
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	w.fsw = fsw
	go w.loop()
	return w, nil
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read signature file: %w", err)
	}
	n, err := w.catalog.Restore(data)
	if err != nil {
		return fmt.Errorf("load signature file: %w", err)
	}
	slog.Info("signature file loaded", "path", w.path, "signatures", n)
	return nil
}

func (w *Watcher) loop() {
	var pending <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// debounce bursts of write events
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("signature watch error", "error", err)
		case <-pending:
			pending = nil
			if err := w.load(); err != nil {
				slog.Error("signature reload failed", "error", err)
			}
		}
	}
}

// Package watcher implements the recursive filesystem watcher described in
// spec.md §4.10: it watches a configured set of root directories and every
// subdirectory beneath them, emitting create/move events (subset to which
// is event-filterable per spec.md §6's watch_events option).
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/mlog"
	"github.com/ghisgit/media-organizer/internal/scanner"
)

// renameCorrelationWindow bounds how long a Rename (the source path has
// already vanished when fsnotify reports it) is paired with the Create
// that follows at the destination path. fsnotify reports a move as two
// independent events rather than one atomic notification carrying both
// paths, so they have to be correlated by proximity in time rather than
// handled independently.
const renameCorrelationWindow = 2 * time.Second

// EventKind is the normalized event category the watcher emits, collapsing
// fsnotify's finer-grained op bits into the two kinds spec.md §6 names.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventMoved   EventKind = "moved"
)

// Event is one filesystem notification for a single regular file.
type Event struct {
	Path string
	Kind EventKind
	Size int64
}

// Watcher recursively monitors a set of root directories for new or moved
// video files.
type Watcher struct {
	inner   *fsnotify.Watcher
	log     *mlog.Logger
	enabled map[EventKind]bool

	mu              sync.Mutex
	visited         map[string]bool
	watching        map[string]bool
	pendingRenameAt time.Time
}

// New constructs a Watcher. enabledEvents mirrors config.WatchEvents: a set
// of lowercase event names ("created", "moved") to actually emit.
func New(enabledEvents map[string]bool, log *mlog.Logger) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create filesystem watcher")
	}

	enabled := map[EventKind]bool{}
	for name, on := range enabledEvents {
		enabled[EventKind(name)] = on
	}

	return &Watcher{
		inner:    inner,
		log:      log.Sublogger("watcher"),
		enabled:  enabled,
		visited:  map[string]bool{},
		watching: map[string]bool{},
	}, nil
}

// AddRoot registers root and every existing subdirectory beneath it for
// watching. It is safe to call for multiple independent roots.
func (w *Watcher) AddRoot(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.log.Warn("unable to descend into %s: %v", path, walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.addDir(path)
	})
	if err != nil {
		return errors.Wrapf(err, "unable to register watch root %s", root)
	}
	return nil
}

func (w *Watcher) addDir(path string) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil
	}

	w.mu.Lock()
	if w.visited[real] {
		w.mu.Unlock()
		return filepath.SkipDir
	}
	w.visited[real] = true
	w.mu.Unlock()

	if err := w.inner.Add(path); err != nil {
		w.log.Warn("unable to watch directory %s: %v", path, err)
		return nil
	}

	w.mu.Lock()
	w.watching[path] = true
	w.mu.Unlock()
	return nil
}

// Run reads fsnotify events and passes each normalized event to emit. It
// blocks until Close is called.
func (w *Watcher) Run(emit func(Event)) {
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			w.handle(ev, emit)
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.log.WarnErr(err, "filesystem watcher")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, emit func(Event)) {
	// A Rename reports the path that is about to vanish (the source side
	// of a move, or a plain rename-away); os.Stat on it always fails, so
	// it can only ever be recorded for correlation with the Create that
	// should follow at the destination.
	if ev.Op&fsnotify.Rename != 0 {
		w.mu.Lock()
		w.pendingRenameAt = time.Now()
		w.mu.Unlock()
		return
	}

	if ev.Op&fsnotify.Create == 0 {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := w.addDir(ev.Name); err != nil && err != filepath.SkipDir {
			w.log.Warn("unable to extend watch to new directory %s: %v", ev.Name, err)
		}
		return
	}

	if !scanner.HasVideoExtension(ev.Name) {
		return
	}

	kind := EventCreated
	w.mu.Lock()
	if !w.pendingRenameAt.IsZero() && time.Since(w.pendingRenameAt) <= renameCorrelationWindow {
		kind = EventMoved
	}
	w.pendingRenameAt = time.Time{}
	w.mu.Unlock()

	if len(w.enabled) > 0 && !w.enabled[kind] {
		return
	}

	emit(Event{Path: ev.Name, Kind: kind, Size: info.Size()})
}

// Close stops the underlying fsnotify watcher, unblocking Run.
func (w *Watcher) Close() error {
	return w.inner.Close()
}

// Package watch monitors input and lexicon files on disk and notifies
// callbacks with debounced batches of changes, so that a preprocessing run
// can be repeated whenever its inputs are edited.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/fsnotify.v1"
)

// EventType indicates what happened to a watched file.
type EventType string

const (
	// EventCreate indicates the file appeared.
	EventCreate EventType = "create"

	// EventModify indicates the file was written.
	EventModify EventType = "modify"

	// EventRemove indicates the file was removed or renamed away.
	EventRemove EventType = "remove"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Event is one change to a watched file.
type Event struct {
	Path string    `json:"path"`
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
}

// Config holds the files to watch.
type Config struct {
	// Paths are the files to watch. Their parent directories are watched so
	// that editors replacing a file by rename are still noticed.
	Paths []string `json:"paths" yaml:"paths"`

	// Debounce is how long the watcher waits after the last event before
	// notifying callbacks.
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

// FileStatus reports the watcher's view of one file.
type FileStatus struct {
	Path       string    `json:"path"`
	Changes    int       `json:"changes"`
	LastChange time.Time `json:"last_change,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// FileWatcher delivers debounced change batches for a fixed set of files.
type FileWatcher struct {
	paths    map[string]bool
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}

	callbacks []func([]Event)
	pending   []Event
	timer     *time.Timer
	status    map[string]*FileStatus

	mu sync.Mutex
}

// NewFileWatcher creates a watcher for cfg.Paths. It does not start
// watching until Start is called.
func NewFileWatcher(cfg Config, logger *slog.Logger) (*FileWatcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no paths configured for watching")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &FileWatcher{
		paths:    make(map[string]bool),
		debounce: cfg.Debounce,
		logger:   logger.With("component", "watch"),
		status:   make(map[string]*FileStatus),
	}
	for _, path := range cfg.Paths {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		w.paths[abs] = true
		w.status[abs] = &FileStatus{Path: abs}
	}
	if len(w.paths) == 0 {
		return nil, fmt.Errorf("no paths configured for watching")
	}
	return w, nil
}

// OnChange registers a callback that receives each debounced batch of
// events. Callbacks run on a timer goroutine.
func (w *FileWatcher) OnChange(callback func([]Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Paths returns the watched files, sorted.
func (w *FileWatcher) Paths() []string {
	paths := make([]string, 0, len(w.paths))
	for path := range w.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Start begins watching. The watcher stops when ctx is done or Stop is
// called.
func (w *FileWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for path := range w.paths {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	stopChan := make(chan struct{})
	done := make(chan struct{})
	w.mu.Lock()
	w.watcher = watcher
	w.stopChan = stopChan
	w.done = done
	w.mu.Unlock()

	go w.watchLoop(ctx, watcher, stopChan, done)
	w.logger.Info("watching files", "paths", w.Paths(), "debounce", w.debounce)
	return nil
}

// Stop ends watching and waits for the watch loop to exit. Pending events
// that have not been flushed are dropped.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	watcher, stopChan, done := w.watcher, w.stopChan, w.done
	w.watcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	close(stopChan)
	<-done
	return watcher.Close()
}

// Status returns per-file change counts, sorted by path.
func (w *FileWatcher) Status() []FileStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	statuses := make([]FileStatus, 0, len(w.status))
	for _, status := range w.status {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Path < statuses[j].Path
	})
	return statuses
}

// watchLoop handles file system events.
func (w *FileWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, stopChan, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return

		case <-stopChan:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.record(event, time.Now())

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// record queues an event for a watched path and restarts the debounce
// timer. Events for other files in the same directory are ignored.
func (w *FileWatcher) record(event fsnotify.Event, now time.Time) {
	path, err := filepath.Abs(event.Name)
	if err != nil || !w.paths[path] {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventModify
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRemove
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, Event{Path: path, Type: eventType, Time: now})
	status := w.status[path]
	status.Changes++
	status.LastChange = now
	if eventType == EventRemove {
		status.LastError = "file removed"
	} else {
		status.LastError = ""
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush delivers the pending batch to every callback.
func (w *FileWatcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.timer = nil
	callbacks := make([]func([]Event), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	w.logger.Debug("files changed", "events", len(batch))
	for _, callback := range callbacks {
		callback(batch)
	}
}

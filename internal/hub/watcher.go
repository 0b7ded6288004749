package hub

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcphub/pkg/logging"
)

// DefaultDebounceWindow is how long a watcher waits after the last
// filesystem event before emitting a single restart request. Editors
// commonly produce several events per save; the window collapses them.
const DefaultDebounceWindow = 300 * time.Millisecond

// fileWatcher watches the files configured for one connection and
// emits the connection's name on the shared channel after a quiet
// period. fsnotify watches are placed on parent directories because
// editors replace files via rename, which drops watches placed on the
// files themselves.
type fileWatcher struct {
	mu sync.Mutex

	// name is emitted on the channel; for server watchers it is the
	// server name, for the hub's own config watcher a fixed label.
	name string

	// paths holds the cleaned absolute paths of the watched files.
	paths map[string]bool

	watcher  *fsnotify.Watcher
	debounce time.Duration
	events   chan<- string

	timer  *time.Timer
	stopCh chan struct{}
}

func newFileWatcher(name string, paths []string, debounce time.Duration, events chan<- string) (*fileWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to watch for %q", name)
	}
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}

	cleaned := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve watch path %q: %w", p, err)
		}
		cleaned[filepath.Clean(abs)] = true
	}

	return &fileWatcher{
		name:     name,
		paths:    cleaned,
		debounce: debounce,
		events:   events,
		stopCh:   make(chan struct{}),
	}, nil
}

// start creates the fsnotify watcher, adds the parent directories of
// every watched file, and launches the event loop.
func (w *fileWatcher) start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch directory %q: %w", dir, err)
		}
		logging.Debug("FileWatcher", "Watching directory %s for %s", dir, w.name)
	}

	w.watcher = watcher
	go w.processEvents()
	return nil
}

// stop tears down the watcher and cancels any pending emission.
func (w *fileWatcher) stop() {
	w.mu.Lock()
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return
	default:
	}
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	watcher := w.watcher
	w.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
}

func (w *fileWatcher) processEvents() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FileWatcher", err, "Watcher error for %s", w.name)
		}
	}
}

func (w *fileWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.paths[filepath.Clean(event.Name)] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	// Restart the quiet-period timer on every matching event so a burst
	// produces exactly one emission.
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.emit)
}

func (w *fileWatcher) emit() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	select {
	case w.events <- w.name:
		logging.Debug("FileWatcher", "Change detected, requesting restart of %s", w.name)
	default:
		logging.Warn("FileWatcher", "Restart channel full, dropping request for %s", w.name)
	}
}

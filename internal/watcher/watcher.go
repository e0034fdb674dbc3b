// Package watcher provides folder watching with fsnotify and debounced
// re-index callbacks.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches image folders and invokes a callback when their contents
// change. Events are coalesced per folder: a burst of file changes produces a
// single callback after the debounce interval. Watching is non-recursive, a
// folder's index covers only its direct children.
type Watcher struct {
	folders    []string
	extensions []string
	onChange   func(folder string)
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	pending    map[string]*time.Timer // folder -> debounce timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (folder changes, file events).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher. onChange is called with the folder path after
// its contents change and the debounce interval passes. folders are the
// initial paths to watch; extensions filter which files count (empty = all).
func NewWatcher(folders []string, extensions []string, onChange func(folder string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		folders:    folders,
		extensions: extensions,
		onChange:   onChange,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting",
			zap.Strings("folders", w.folders), zap.Strings("extensions", w.extensions))
	}
	for _, folder := range w.folders {
		if err := w.watcher.Add(filepath.Clean(folder)); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	// Capture the fsnotify watcher once: Stop sets w.watcher to nil, and the
	// loop must keep draining the channels until Close ends them.
	w.mu.Lock()
	fsw := w.watcher
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write),
		ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
	default:
		return
	}
	if !w.matchExtension(ev.Name) {
		return
	}
	folder := filepath.Dir(ev.Name)
	if !w.watching(folder) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event",
			zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	w.scheduleChange(folder)
}

func (w *Watcher) watching(folder string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	clean := filepath.Clean(folder)
	for _, f := range w.folders {
		if filepath.Clean(f) == clean {
			return true
		}
	}
	return false
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// scheduleChange resets the folder's debounce timer, a new event during the
// interval starts the wait over.
func (w *Watcher) scheduleChange(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[folder]; ok {
		t.Stop()
	}
	t := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, folder)
		logger := w.logger
		w.mu.Unlock()
		if logger != nil {
			logger.Debug("watcher folder changed (debounced)", zap.String("folder", folder))
		}
		if w.onChange != nil {
			w.onChange(folder)
		}
	})
	w.pending[folder] = t
}

// AddFolder adds a folder to watch. It must already exist.
func (w *Watcher) AddFolder(folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "watch", Path: abs, Err: os.ErrInvalid}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		w.folders = append(w.folders, abs)
		return nil
	}
	for _, f := range w.folders {
		if filepath.Clean(f) == filepath.Clean(abs) {
			return nil
		}
	}
	if err := w.watcher.Add(abs); err != nil {
		return err
	}
	w.folders = append(w.folders, abs)
	if w.logger != nil {
		w.logger.Debug("watcher folder added", zap.String("folder", abs))
	}
	return nil
}

// RemoveFolder stops watching the given folder. The folder's index is left
// alone.
func (w *Watcher) RemoveFolder(folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, f := range w.folders {
		if filepath.Clean(f) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		_ = w.watcher.Remove(abs)
	}
	if t, ok := w.pending[abs]; ok {
		t.Stop()
		delete(w.pending, abs)
	}
	w.folders = append(w.folders[:idx], w.folders[idx+1:]...)
	if w.logger != nil {
		w.logger.Debug("watcher folder removed", zap.String("folder", abs))
	}
	return nil
}

// Folders returns a copy of the current watched folders.
func (w *Watcher) Folders() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.folders...)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for folder, t := range w.pending {
		t.Stop()
		delete(w.pending, folder)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"wa_command_bot/internal/logging"
)

// DefaultDebounce coalesces bursts of events for one file.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads scripts when files under the plugins root change.
type Watcher struct {
	manager  *Manager
	debounce time.Duration

	mu      sync.Mutex
	fs      *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	pending map[string]*time.Timer
	done    chan struct{}
}

// NewWatcher builds a watcher for the manager's directory.
func NewWatcher(manager *Manager, debounce time.Duration) (*Watcher, error) {
	if manager == nil {
		return nil, errors.New("plugin manager is not initialized")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		manager:  manager,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start watches the plugins root and every category directory.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	root := w.manager.Dir()
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return fmt.Errorf("watch plugin dir: %w", err)
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		return watcher.Add(path)
	})

	w.mu.Lock()
	w.fs = watcher
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.manager.logger.WithFields(logging.Fields{
		"event": "plugin_watch_started",
		"path":  root,
	}).Info("plugin hot reload enabled")

	go w.loop()
	return nil
}

// Stop ends watching and drops pending reloads.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.fs != nil {
		w.fs.Close()
		w.fs = nil
	}
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	done := w.done
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (w *Watcher) loop() {
	w.mu.Lock()
	events, errs, ctx, done := w.fs.Events, w.fs.Errors, w.ctx, w.done
	w.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.manager.logger.WithError(err).WithField("event", "plugin_watch_error").Warn("plugin watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			if w.fs != nil {
				_ = w.fs.Add(event.Name)
			}
			w.mu.Unlock()
			return
		}
	}
	if !isScriptFile(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.settle(path)
	})
}

// settle acts on the final state of path once its events have quieted.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		w.manager.Unload(path)
		return
	}

	category := filepath.Base(filepath.Dir(path))
	if !ValidCategory(category) {
		w.manager.logger.WithFields(logging.Fields{
			"event": "plugin_outside_category",
			"path":  path,
		}).Warn("ignoring plugin outside a category directory")
		return
	}
	// Failures are logged by the manager; the previous descriptor stays
	// registered until a valid version arrives.
	_, _ = w.manager.Load(ctx, category, path)
}

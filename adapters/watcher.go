package adapters

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schmitech/orbit/core"
)

const debounceWindow = 200 * time.Millisecond

// Watcher reloads adapters when the configuration file changes on disk.
// Editors often emit several write events per save, so events are debounced
// before the reload callback fires.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	onChange func()
	logger   core.Logger

	mu      sync.Mutex
	pending *time.Timer
	done    chan struct{}
}

// NewWatcher watches path and invokes onChange after each settled burst of
// write events. The caller owns the reload logic; Close stops the watch.
func NewWatcher(path string, onChange func(), logger core.Logger) (*Watcher, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/adapters")
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: many editors replace the file on
	// save, which drops a direct file watch.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error", map[string]interface{}{
				"operation": "adapter_watch",
				"error":     err.Error(),
			})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceWindow, func() {
		w.logger.Info("Configuration change detected", map[string]interface{}{
			"operation": "adapter_watch",
			"path":      w.path,
		})
		w.onChange()
	})
}

// Close stops the watcher and cancels any pending reload.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/crawlytics/governor/pkg/logging"
)

// Watcher reloads the YAML config file on change and hands the parsed
// result to the registered callback. A file that fails to parse is logged
// and skipped; the previous configuration stays active.
type Watcher struct {
	path     string
	onReload func(*FileConfig)
	logger   logging.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher builds a watcher for path. onReload is invoked from the
// watcher goroutine with every successfully parsed new version.
func NewWatcher(path string, onReload func(*FileConfig), logger logging.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watcher needs a config file path")
	}
	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself, so editors that replace the file atomically are still seen.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Config watcher error", "error", err)
			case <-w.stopCh:
				return
			}
		}
	}()
	return nil
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	fc, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("Ignoring config reload, file did not parse", "error", err)
		return
	}
	w.logger.Info("Config file reloaded", "path", w.path)
	w.onReload(fc)
}

// Stop shuts the watcher down and waits for its goroutine.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()
}

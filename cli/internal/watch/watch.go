// Package watch reruns a callback when a file changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satishbabariya/gorel/internal/debug"
)

// Debounce coalesces bursts of writes into one callback.
const Debounce = 300 * time.Millisecond

// Watcher watches a single file.
type Watcher struct {
	file     string
	callback func() error
	watcher  *fsnotify.Watcher
}

// NewWatcher watches file. The containing directory is watched so editors that replace the
// file on save are still seen.
func NewWatcher(file string, callback func() error) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("resolve %s: %w", file, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{file: abs, callback: callback, watcher: w}, nil
}

// Run calls the callback once, then after every change, until ctx is done. Callback errors
// after the first run are logged and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	if err := w.callback(); err != nil {
		return err
	}

	timer := time.NewTimer(Debounce)
	timer.Stop()
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if p, err := filepath.Abs(ev.Name); err == nil && p == w.file {
				timer.Reset(Debounce)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			if err := w.callback(); err != nil {
				debug.Warn("watch callback failed", "file", w.file, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			debug.Warn("watch error", "file", w.file, "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

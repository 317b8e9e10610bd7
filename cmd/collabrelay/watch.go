package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configWatcher reports changes to one file. Editors often replace files
// by rename, so the parent directory is watched and events are matched by
// name.
type configWatcher struct {
	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
}

// settle coalesces the bursts of events a single save produces.
const settle = 250 * time.Millisecond

func watchConfig(path string) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	cw := &configWatcher{watcher: w, changes: make(chan struct{}, 1), done: make(chan struct{})}
	go cw.run(abs)
	slog.Info("watching config file for changes", "path", abs)
	return cw, nil
}

func (cw *configWatcher) run(path string) {
	defer close(cw.done)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			select {
			case cw.changes <- struct{}{}:
			default: // a reload is already pending
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}

// Changes delivers one value per settled burst of writes.
func (cw *configWatcher) Changes() <-chan struct{} {
	return cw.changes
}

func (cw *configWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}

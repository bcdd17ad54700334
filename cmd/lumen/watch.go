// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"
	"github.com/lumen3d/lumen/config"
)

// configWatcher reopens the configuration files whenever one of them
// changes, sending each valid result on Updates. Invalid files are
// logged and skipped, so the last good configuration stays in effect.
type configWatcher struct {
	files   []string
	watcher *fsnotify.Watcher
	updates chan *config.Config
	done    chan struct{}
}

// newConfigWatcher watches the directories of the given files, so that
// editors replacing a file by renaming are seen.
func newConfigWatcher(files []string) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &configWatcher{watcher: w, updates: make(chan *config.Config, 1), done: make(chan struct{})}
	var dirs []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			w.Close()
			return nil, err
		}
		cw.files = append(cw.files, abs)
		if d := filepath.Dir(abs); !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, err
		}
	}
	go cw.run()
	return cw, nil
}

// Updates returns the channel of reloaded configurations.
// Only the most recent one is kept if the receiver falls behind.
func (cw *configWatcher) Updates() <-chan *config.Config { return cw.updates }

// Close stops watching and waits for the watch goroutine to exit.
func (cw *configWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}

func (cw *configWatcher) run() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !slices.Contains(cw.files, filepath.Clean(event.Name)) {
				continue
			}
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("lumen: config watcher error: " + err.Error())
		}
	}
}

func (cw *configWatcher) reload() {
	cfg, err := config.Open(cw.files...)
	if err != nil {
		slog.Error("lumen: not applying changed configuration", "err", err)
		return
	}
	select {
	case <-cw.updates:
	default:
	}
	cw.updates <- cfg
	slog.Debug("lumen: configuration reloaded", "files", len(cw.files))
}

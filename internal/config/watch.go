// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	internallog "github.com/tombee/daemond/internal/log"
)

// watchBuffer bounds the events fsnotify queues between two polls.
const watchBuffer = 64

// Watcher reports changes to a configuration file. Events queue inside
// fsnotify and are only looked at when Changed is called.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// Watch starts watching path. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func Watch(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = internallog.Discard()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewBufferedWatcher(watchBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", absPath, err)
	}

	return &Watcher{
		path:   absPath,
		fsw:    fsw,
		logger: internallog.WithComponent(logger, "config-watch").With(slog.String("path", absPath)),
	}, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Changed drains queued events without blocking and reports whether any of
// them wrote, created or renamed the watched file.
func (w *Watcher) Changed() bool {
	changed := false
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return changed
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				internallog.Trace(w.logger, "configuration file changed", slog.String("op", event.Op.String()))
				changed = true
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return changed
			}
			w.logger.Warn("config watcher error", internallog.Error(err))
		default:
			return changed
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

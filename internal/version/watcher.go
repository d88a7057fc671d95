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

// Package version detects that a daemon's code changed on disk.
package version

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	internallog "github.com/tombee/daemond/internal/log"
)

const timeLayout = "2006-01-02 15:04:05"

// Fingerprint is the newest modification time of the watched files, in unix
// seconds.
type Fingerprint int64

// Time returns the fingerprint as a local time.
func (f Fingerprint) Time() time.Time {
	return time.Unix(int64(f), 0)
}

// String formats the fingerprint as a timestamp.
func (f Fingerprint) String() string {
	return f.Time().Format(timeLayout)
}

// Options configures a Watcher.
type Options struct {
	// Paths lists files or doublestar patterns. Empty means the running
	// executable.
	Paths []string

	// ConfigFile, when set, is always watched as well.
	ConfigFile string

	Now    func() time.Time
	Logger *slog.Logger
}

// Watcher compares the current fingerprint of a fixed file set with the one
// taken when it was created.
type Watcher struct {
	paths   []string
	startup Fingerprint
	now     func() time.Time
	logger  *slog.Logger
}

// New resolves the watched file set and takes the startup fingerprint.
// Patterns are expanded once; a pattern matching nothing is kept as a literal
// path, which then counts as a missing file.
func New(opts Options) (*Watcher, error) {
	w := &Watcher{now: opts.Now, logger: opts.Logger}
	if w.now == nil {
		w.now = time.Now
	}
	if w.logger == nil {
		w.logger = internallog.Discard()
	}
	w.logger = internallog.WithComponent(w.logger, "version")

	patterns := opts.Paths
	if len(patterns) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		patterns = []string{exe}
	}
	if opts.ConfigFile != "" {
		patterns = append(patterns, opts.ConfigFile)
	}

	seen := make(map[string]bool)
	for _, p := range patterns {
		expanded, err := expand(p)
		if err != nil {
			return nil, err
		}
		for _, path := range expanded {
			if !seen[path] {
				seen[path] = true
				w.paths = append(w.paths, path)
			}
		}
	}

	w.startup = w.Compute()
	return w, nil
}

func expand(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		return []string{pattern}, nil
	}
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return []string{pattern}, nil
	}
	return matches, nil
}

// Paths returns the resolved watched files.
func (w *Watcher) Paths() []string {
	return w.paths
}

// Startup returns the fingerprint taken at construction.
func (w *Watcher) Startup() Fingerprint {
	return w.startup
}

// Compute stats every watched file and returns the newest modification
// time. A file that is missing or not a regular file counts as modified now.
func (w *Watcher) Compute() Fingerprint {
	var newest int64
	for _, path := range w.paths {
		var mtime int64
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			mtime = w.now().Unix()
		} else {
			mtime = info.ModTime().Unix()
		}
		if mtime > newest {
			newest = mtime
		}
	}
	return Fingerprint(newest)
}

// Changed reports whether the fingerprint differs from the startup one.
func (w *Watcher) Changed() bool {
	current := w.Compute()
	if current == w.startup {
		return false
	}
	w.logger.Info(fmt.Sprintf("New version: %s (running version: %s)", current, w.startup))
	return true
}

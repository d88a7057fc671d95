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
	"os"
	"path/filepath"
)

// RuntimeDir returns the directory for PID and IPC files.
// Root daemons use /var/run; everyone else follows XDG_RUNTIME_DIR and falls
// back to the system temp dir.
func RuntimeDir() string {
	if os.Geteuid() == 0 {
		return "/var/run"
	}
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return xdg
	}
	return os.TempDir()
}

// StateDir returns the directory for a daemon's log files.
// On Unix: /var/log/<name> for root, ~/.local/state/<name> otherwise.
// Respects XDG_STATE_HOME environment variable
func StateDir(name string) string {
	if os.Geteuid() == 0 {
		return filepath.Join("/var/log", name)
	}

	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), name)
		}
		base = filepath.Join(home, ".local", "state")
	}

	return filepath.Join(base, name)
}

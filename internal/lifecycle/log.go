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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

// Audit event names.
const (
	EventStart          = "start"
	EventStartFailure   = "start_failure"
	EventAlreadyRunning = "already_running"
	EventStalePID       = "stale_pid_detected"
	EventStop           = "stop"
	EventRestart        = "restart"
	EventReload         = "reload"
)

// LifecycleEvent is one line of the audit log.
type LifecycleEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Daemon     string    `json:"daemon"`
	Event      string    `json:"event"`
	PID        int       `json:"pid,omitempty"`
	Foreground bool      `json:"foreground,omitempty"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// LifecycleLogger appends lifecycle events to a JSON lines file. A nil
// logger, or one with an empty path, records nothing.
type LifecycleLogger struct {
	daemon  string
	logPath string
	now     func() time.Time
}

// NewLifecycleLogger creates a logger for the named daemon.
func NewLifecycleLogger(daemon, logPath string) *LifecycleLogger {
	return &LifecycleLogger{
		daemon:  daemon,
		logPath: logPath,
		now:     time.Now,
	}
}

// LogStart records a successful launch of pid.
func (l *LifecycleLogger) LogStart(pid int, foreground bool) error {
	return l.writeEvent(LifecycleEvent{
		Event:      EventStart,
		PID:        pid,
		Foreground: foreground,
		Success:    true,
		Message:    "Daemon started",
	})
}

// LogStartFailure records a launch that failed before a PID was recorded.
func (l *LifecycleLogger) LogStartFailure(err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStartFailure,
		Success: false,
		Message: "Daemon failed to start",
		Error:   err.Error(),
	})
}

// LogAlreadyRunning records a start refused because pid is alive.
func (l *LifecycleLogger) LogAlreadyRunning(pid int, command string) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventAlreadyRunning,
		PID:     pid,
		Success: false,
		Message: fmt.Sprintf("Daemon already running: %s", command),
	})
}

// LogStalePID records a PID file whose process is gone.
func (l *LifecycleLogger) LogStalePID(pid int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStalePID,
		PID:     pid,
		Success: true,
		Message: "Stale PID file detected, process is not running",
	})
}

// LogStop records a clean shutdown.
func (l *LifecycleLogger) LogStop(pid int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStop,
		PID:     pid,
		Success: true,
		Message: "Daemon stopped",
	})
}

// LogRestart records a restart and the command used to relaunch.
func (l *LifecycleLogger) LogRestart(pid int, foreground bool, command string) error {
	return l.writeEvent(LifecycleEvent{
		Event:      EventRestart,
		PID:        pid,
		Foreground: foreground,
		Success:    true,
		Message:    fmt.Sprintf("Restarting daemon: %s", command),
	})
}

// LogReload records a configuration reload.
func (l *LifecycleLogger) LogReload(pid int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventReload,
		PID:     pid,
		Success: true,
		Message: "Daemon reloaded",
	})
}

// writeEvent appends a lifecycle event to the log file.
func (l *LifecycleLogger) writeEvent(event LifecycleEvent) error {
	if l == nil || l.logPath == "" {
		return nil
	}

	event.Timestamp = l.now()
	event.Daemon = l.daemon

	logDir := filepath.Dir(l.logPath)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return daemonerrors.Wrap(err, "failed to create log directory")
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return daemonerrors.Wrap(err, "failed to open lifecycle log")
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return daemonerrors.Wrap(err, "failed to marshal event")
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return daemonerrors.Wrap(err, "failed to write event")
	}

	return nil
}

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
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// readEvents parses every line of a lifecycle log.
func readEvents(t *testing.T, path string) []LifecycleEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	var events []LifecycleEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev LifecycleEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid log line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestLifecycleLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "lifecycle.log")
	l := NewLifecycleLogger("tickerd", logPath)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	steps := []func() error{
		func() error { return l.LogStart(100, false) },
		func() error { return l.LogAlreadyRunning(100, "tickerd daemon-child") },
		func() error { return l.LogStalePID(99) },
		func() error { return l.LogStartFailure(errors.New("no such file")) },
		func() error { return l.LogReload(100) },
		func() error { return l.LogRestart(100, true, "tickerd startForeground") },
		func() error { return l.LogStop(100) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	events := readEvents(t, logPath)
	wantEvents := []string{
		EventStart, EventAlreadyRunning, EventStalePID, EventStartFailure,
		EventReload, EventRestart, EventStop,
	}
	if len(events) != len(wantEvents) {
		t.Fatalf("got %d events, want %d", len(events), len(wantEvents))
	}
	for i, ev := range events {
		if ev.Event != wantEvents[i] {
			t.Errorf("event[%d] = %q, want %q", i, ev.Event, wantEvents[i])
		}
		if ev.Daemon != "tickerd" {
			t.Errorf("event[%d].Daemon = %q, want tickerd", i, ev.Daemon)
		}
		if !ev.Timestamp.Equal(fixed) {
			t.Errorf("event[%d].Timestamp = %v, want %v", i, ev.Timestamp, fixed)
		}
	}

	if events[1].Message != "Daemon already running: tickerd daemon-child" {
		t.Errorf("already_running message = %q", events[1].Message)
	}
	if events[3].Success || events[3].Error != "no such file" {
		t.Errorf("start_failure = %+v", events[3])
	}
	if !events[5].Foreground {
		t.Error("restart event lost the foreground flag")
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode() & os.ModePerm; mode != 0600 {
		t.Errorf("log mode = %04o, want 0600", mode)
	}
}

func TestLifecycleLogger_Disabled(t *testing.T) {
	var nilLogger *LifecycleLogger
	if err := nilLogger.LogStart(1, false); err != nil {
		t.Errorf("nil logger LogStart() error = %v", err)
	}
	if err := NewLifecycleLogger("x", "").LogStop(1); err != nil {
		t.Errorf("pathless logger LogStop() error = %v", err)
	}
}

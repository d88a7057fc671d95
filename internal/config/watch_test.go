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
	"testing"
	"time"
)

// changedWithin polls Changed until it reports true or timeout elapses.
func changedWithin(w *Watcher, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.Changed() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestWatcher_DetectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickerd.yaml")
	if err := os.WriteFile(path, []byte("name: tickerd\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if w.Changed() {
		t.Fatal("Changed() = true before any write")
	}

	if err := os.WriteFile(path, []byte("name: tickerd\nwatch_config: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if !changedWithin(w, 2*time.Second) {
		t.Fatal("write to config file not detected")
	}

	// The queue is drained once reported.
	time.Sleep(50 * time.Millisecond)
	w.Changed()
	if w.Changed() {
		t.Error("Changed() = true with no new events")
	}
}

func TestWatcher_DetectsReplaceByRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickerd.yaml")
	if err := os.WriteFile(path, []byte("name: tickerd\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	tmp := filepath.Join(dir, ".tickerd.yaml.swp")
	if err := os.WriteFile(tmp, []byte("name: tickerd\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if !changedWithin(w, 2*time.Second) {
		t.Fatal("replacement of config file not detected")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickerd.yaml")
	if err := os.WriteFile(path, []byte("name: tickerd\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if changedWithin(w, 300*time.Millisecond) {
		t.Error("write to unrelated file reported as change")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	if _, err := Watch(filepath.Join(t.TempDir(), "nope", "tickerd.yaml"), nil); err == nil {
		t.Error("Watch() on missing directory succeeded, want error")
	}
}

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
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFile_Write(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("writes PID with trailing newline", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "test.pid")
		p := NewPIDFile(pidPath)

		if err := p.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		data, err := os.ReadFile(pidPath)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != "1234\n" {
			t.Errorf("content = %q, want %q", data, "1234\n")
		}

		info, err := os.Stat(pidPath)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0644 {
			t.Errorf("PID file mode = %04o, want 0644", mode)
		}
	})

	t.Run("overwrites stale content", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "stale.pid")
		if err := os.WriteFile(pidPath, []byte("99999999\n"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		p := NewPIDFile(pidPath)
		if err := p.Write(42); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		pid, err := p.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if pid != 42 {
			t.Errorf("Read() = %d, want 42", pid)
		}
	})

	t.Run("creates parent directory if missing", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "nested", "dir", "test.pid")
		p := NewPIDFile(pidPath)

		if err := p.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if !p.Exists() {
			t.Error("PID file does not exist after Write()")
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := filepath.Join(tmpDir, "clean")
		p := NewPIDFile(filepath.Join(dir, "test.pid"))

		for i := 1; i <= 3; i++ {
			if err := p.Write(i); err != nil {
				t.Fatalf("Write(%d) error = %v", i, err)
			}
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want 1", len(entries))
		}
	})

	t.Run("rejects world-writable directory", func(t *testing.T) {
		unsafeDir := filepath.Join(tmpDir, "unsafe")
		if err := os.Mkdir(unsafeDir, 0755); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}
		if err := os.Chmod(unsafeDir, 0777); err != nil {
			t.Fatalf("Chmod() error = %v", err)
		}

		p := NewPIDFile(filepath.Join(unsafeDir, "test.pid"))
		err := p.Write(1234)
		if !errors.Is(err, ErrUnsafeDirectory) {
			t.Errorf("Write() error = %v, want ErrUnsafeDirectory", err)
		}
	})

	t.Run("accepts sticky world-writable directory", func(t *testing.T) {
		stickyDir := filepath.Join(tmpDir, "sticky")
		if err := os.Mkdir(stickyDir, 0755); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}
		if err := os.Chmod(stickyDir, 0777|os.ModeSticky); err != nil {
			t.Fatalf("Chmod() error = %v", err)
		}

		p := NewPIDFile(filepath.Join(stickyDir, "test.pid"))
		if err := p.Write(1234); err != nil {
			t.Errorf("Write() error = %v", err)
		}
	})
}

func TestPIDFile_Read(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns not-exist error for missing file", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "missing.pid"))
		_, err := p.Read()
		if !os.IsNotExist(err) {
			t.Errorf("Read() error = %v, want not-exist", err)
		}
	})

	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "not-a-pid"},
		{"zero", "0"},
		{"negative", "-5"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			pidPath := filepath.Join(tmpDir, tt.name+".pid")
			if err := os.WriteFile(pidPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			_, err := NewPIDFile(pidPath).Read()
			if !errors.Is(err, ErrInvalidPID) {
				t.Errorf("Read() error = %v, want ErrInvalidPID", err)
			}
		})
	}

	t.Run("tolerates surrounding whitespace", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "ws.pid")
		if err := os.WriteFile(pidPath, []byte("  77 \n"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		pid, err := NewPIDFile(pidPath).Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if pid != 77 {
			t.Errorf("Read() = %d, want 77", pid)
		}
	})
}

func TestPIDFile_Remove(t *testing.T) {
	tmpDir := t.TempDir()
	p := NewPIDFile(filepath.Join(tmpDir, "test.pid"))

	if err := p.Write(1234); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := p.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if p.Exists() {
		t.Error("PID file still exists after Remove()")
	}

	// Removing twice is fine.
	if err := p.Remove(); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestPIDFile_Running(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("no file", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "none.pid"))
		if pid, running := p.Running(); running || pid != 0 {
			t.Errorf("Running() = (%d, %v), want (0, false)", pid, running)
		}
	})

	t.Run("live process", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "live.pid"))
		if err := p.Write(os.Getpid()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		pid, running := p.Running()
		if !running || pid != os.Getpid() {
			t.Errorf("Running() = (%d, %v), want (%d, true)", pid, running, os.Getpid())
		}
	})

	t.Run("stale PID", func(t *testing.T) {
		deadPID := exitedPID(t)
		p := NewPIDFile(filepath.Join(tmpDir, "stale.pid"))
		if err := p.Write(deadPID); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		pid, running := p.Running()
		if running {
			t.Error("Running() = true for dead PID, want false")
		}
		if pid != deadPID {
			t.Errorf("Running() pid = %d, want %d", pid, deadPID)
		}
	})
}

func TestPIDFile_LockStart(t *testing.T) {
	tmpDir := t.TempDir()
	p := NewPIDFile(filepath.Join(tmpDir, "run", "test.pid"))

	lock, err := p.LockStart()
	if err != nil {
		t.Fatalf("LockStart() error = %v", err)
	}

	// flock locks are per open file description, so a second handle in the
	// same process conflicts.
	if _, err := NewPIDFile(p.Path()).LockStart(); !errors.Is(err, ErrStartInProgress) {
		t.Errorf("second LockStart() error = %v, want ErrStartInProgress", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	again, err := p.LockStart()
	if err != nil {
		t.Fatalf("LockStart() after Unlock error = %v", err)
	}
	again.Unlock()
}

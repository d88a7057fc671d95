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
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// EnvParentPID is set in a detached child to the PID of the process that
// spawned it.
const EnvParentPID = "DAEMOND_PARENT_PID"

// Spawner launches the daemon binary as a detached session leader.
type Spawner struct {
	// Env is the child's environment. Any EnvParentPID entry is replaced.
	Env []string

	// Dir is the child's working directory.
	Dir string
}

// NewSpawner returns a spawner that hands down the current environment and
// starts children in "/".
func NewSpawner() *Spawner {
	return &Spawner{Env: os.Environ(), Dir: "/"}
}

// SpawnDetached runs binary with args in a new session with every standard
// stream on the null device, releases it and returns its PID. A failed start
// returns PID 0.
func (s *Spawner) SpawnDetached(binary string, args []string) (int, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", binary, err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	env := make([]string, 0, len(s.Env)+1)
	for _, kv := range s.Env {
		if !strings.HasPrefix(kv, EnvParentPID+"=") {
			env = append(env, kv)
		}
	}
	env = append(env, EnvParentPID+"="+strconv.Itoa(os.Getpid()))
	proc, err := os.StartProcess(path, append([]string{path}, args...), &os.ProcAttr{
		Dir:   s.Dir,
		Env:   env,
		Files: []*os.File{devNull, devNull, devNull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", path, err)
	}

	pid := proc.Pid
	if err := proc.Release(); err != nil {
		return pid, fmt.Errorf("started pid %d but failed to release it: %w", pid, err)
	}
	return pid, nil
}

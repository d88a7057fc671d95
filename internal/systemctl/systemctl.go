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

// Package systemctl drives the systemd service manager for a daemon: it
// wraps the systemctl binary and writes or removes the daemon's unit file
// and shell alias.
package systemctl

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	internallog "github.com/tombee/daemond/internal/log"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd.CombinedOutput()
}

// Systemctl invokes systemctl for one service.
type Systemctl struct {
	binary string
	run    Runner
	logger *slog.Logger
}

// New creates a wrapper using the systemctl found on PATH.
func New(logger *slog.Logger) *Systemctl {
	return NewWithRunner(ExecRunner, logger)
}

// NewWithRunner creates a wrapper that executes commands through run.
func NewWithRunner(run Runner, logger *slog.Logger) *Systemctl {
	if logger == nil {
		logger = internallog.Discard()
	}
	return &Systemctl{
		binary: "systemctl",
		run:    run,
		logger: internallog.WithComponent(logger, "systemctl"),
	}
}

// Enable enables service at boot.
func (s *Systemctl) Enable(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, nil, "enable", service)
}

// Disable disables service at boot.
func (s *Systemctl) Disable(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, nil, "disable", service)
}

// Start starts service.
func (s *Systemctl) Start(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, nil, "start", service)
}

// Stop stops service.
func (s *Systemctl) Stop(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, nil, "stop", service)
}

// Restart restarts service.
func (s *Systemctl) Restart(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, nil, "restart", service)
}

// Reload asks service to reload its configuration.
func (s *Systemctl) Reload(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, nil, "reload", service)
}

// Status returns the coloured, unabridged status report. systemctl exits
// non-zero for inactive units, so the output is returned either way.
func (s *Systemctl) Status(ctx context.Context, service string) (string, error) {
	return s.exec(ctx, []string{"SYSTEMD_COLORS=1"}, "-l", "status", service)
}

// IsInstalled reports whether systemd knows about service.
func (s *Systemctl) IsInstalled(ctx context.Context, service string) bool {
	out, _ := s.exec(ctx, nil, "is-active", service)
	return strings.TrimSpace(out) != "unknown"
}

// IsEnabled reports whether service is installed and enabled.
func (s *Systemctl) IsEnabled(ctx context.Context, service string) bool {
	if !s.IsInstalled(ctx, service) {
		return false
	}
	out, _ := s.exec(ctx, nil, "is-enabled", service)
	return strings.TrimSpace(out) == "enabled"
}

// IsActive reports whether service is running.
func (s *Systemctl) IsActive(ctx context.Context, service string) bool {
	out, _ := s.exec(ctx, nil, "is-active", service)
	return strings.TrimSpace(out) == "active"
}

// DaemonReload makes systemd re-read unit files.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	_, err := s.exec(ctx, nil, "daemon-reload")
	return err
}

func (s *Systemctl) exec(ctx context.Context, env []string, args ...string) (string, error) {
	out, err := s.run(ctx, env, s.binary, args...)
	if err != nil {
		s.logger.Debug("systemctl failed",
			slog.String("args", strings.Join(args, " ")),
			internallog.Error(err))
	}
	return string(out), err
}

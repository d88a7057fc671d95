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

package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	internallog "github.com/tombee/daemond/internal/log"
	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

var (
	// ErrBusy is returned when the request slot never became free.
	ErrBusy = errors.New("ipc channel busy")

	// ErrNotConsumed is returned when the daemon never picked up the request.
	ErrNotConsumed = errors.New("ipc request not read by daemon")

	// ErrTimeout is returned when the daemon picked up the request but never answered.
	ErrTimeout = errors.New("no ipc response from daemon")
)

// Client phases, reported in TransportError.Phase.
const (
	PhaseAcquire = "acquire"
	PhaseSend    = "send"
	PhaseReceive = "receive"
)

// Options configures a Channel. Zero values fall back to the defaults.
type Options struct {
	AcquireTimeout time.Duration
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

// DefaultOptions returns 5s timeouts polled every 10ms.
func DefaultOptions() Options {
	return Options{
		AcquireTimeout: 5 * time.Second,
		SendTimeout:    5 * time.Second,
		ReceiveTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}
}

// Channel is a file-mediated request/response transport between a client
// process and the running daemon.
//
// The request file's existence is the only mutual exclusion: two clients that
// observe a free slot at the same instant can both write, and one request is
// lost. The daemon has no way to tell a caller gave up, so an abandoned
// response file stays on disk until the next Purge.
type Channel struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// New creates a channel on the given request file path. An empty path yields
// a disabled channel.
func New(path string, opts Options) *Channel {
	defaults := DefaultOptions()
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaults.AcquireTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaults.SendTimeout
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = internallog.Discard()
	}

	return &Channel{
		path:   path,
		opts:   opts,
		logger: internallog.WithComponent(logger, "ipc"),
	}
}

// Path returns the request file path.
func (c *Channel) Path() string {
	return c.path
}

// Enabled reports whether the channel has a path.
func (c *Channel) Enabled() bool {
	return c != nil && c.path != ""
}

// ResponsePath returns the response file bound to a request id.
func (c *Channel) ResponsePath(id string) string {
	return c.path + "." + id
}

// Call builds a request for command and sends it.
func (c *Channel) Call(ctx context.Context, command string, args ...Arg) (Response, error) {
	return c.Send(ctx, NewRequest(command, args...))
}

// Send delivers req to the daemon and waits for its response.
//
// The call runs in three phases, each with its own timeout: wait for the slot
// to be free, wait for the daemon to consume the request, wait for the
// response file. Failures are returned as *errors.TransportError wrapping
// ErrBusy, ErrNotConsumed or ErrTimeout. When the daemon never consumes the
// request, the request file is removed before returning.
func (c *Channel) Send(ctx context.Context, req Request) (Response, error) {
	if !c.Enabled() {
		return Error("IPC not enabled!"), nil
	}
	if req.ID == "" {
		req = NewRequest(req.Command, req.Args...)
	}
	if !ValidID(req.ID) {
		return Response{}, fmt.Errorf("invalid ipc request id %q", req.ID)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode ipc request: %w", err)
	}

	logger := internallog.WithRequestID(c.logger, req.ID)

	// Acquire: the slot is free when no request file exists.
	if err := c.waitUntil(ctx, c.opts.AcquireTimeout, func() bool { return !exists(c.path) }); err != nil {
		return Response{}, c.transportError(PhaseAcquire, c.opts.AcquireTimeout, ErrBusy, err)
	}

	if err := writeFileAtomic(c.path, data); err != nil {
		return Response{}, fmt.Errorf("failed to write ipc request: %w", err)
	}
	logger.Debug("ipc request written", slog.String(internallog.CommandKey, req.Command))

	// Send: the daemon deletes the request file when it reads it.
	if err := c.waitUntil(ctx, c.opts.SendTimeout, func() bool { return !exists(c.path) }); err != nil {
		if rmErr := os.Remove(c.path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove unconsumed ipc request", internallog.Error(rmErr))
		}
		return Response{}, c.transportError(PhaseSend, c.opts.SendTimeout, ErrNotConsumed, err)
	}

	// Receive: the response file is named after the request id.
	respPath := c.ResponsePath(req.ID)
	if err := c.waitUntil(ctx, c.opts.ReceiveTimeout, func() bool { return exists(respPath) }); err != nil {
		return Response{}, c.transportError(PhaseReceive, c.opts.ReceiveTimeout, ErrTimeout, err)
	}

	raw, err := os.ReadFile(respPath)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read ipc response: %w", err)
	}
	if err := os.Remove(respPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove ipc response", internallog.Error(err))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("failed to decode ipc response: %w", err)
	}
	return resp, nil
}

// errDeadline marks a phase that ran out of time, as opposed to one whose
// context was cancelled.
var errDeadline = errors.New("deadline reached")

// waitUntil polls cond until it holds, the timeout passes, or ctx is done.
func (c *Channel) waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for !cond() {
		if !time.Now().Before(deadline) {
			return errDeadline
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (c *Channel) transportError(phase string, timeout time.Duration, sentinel, waitErr error) error {
	cause := sentinel
	if !errors.Is(waitErr, errDeadline) {
		cause = waitErr
	}
	return &daemonerrors.TransportError{
		Phase:   phase,
		Path:    c.path,
		Timeout: timeout,
		Cause:   cause,
	}
}

// Purge deletes request and response files left behind by a previous
// instance that did not shut down cleanly. It returns the number of files
// removed.
func (c *Channel) Purge() int {
	if !c.Enabled() {
		return 0
	}

	removed := 0
	if exists(c.path) {
		c.logger.Warn("IPC request file from previous process found - deleting",
			slog.String("path", c.path))
		if err := os.Remove(c.path); err == nil {
			removed++
		}
	}

	matches, err := filepath.Glob(escapeGlob(c.path) + ".*")
	if err != nil {
		c.logger.Warn("failed to list stale ipc responses", internallog.Error(err))
		return removed
	}
	for _, match := range matches {
		c.logger.Warn("IPC response file from previous process found - deleting",
			slog.String("path", match))
		if err := os.Remove(match); err == nil {
			removed++
		}
	}
	return removed
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func escapeGlob(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

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
	"fmt"
	"log/slog"
	"os"

	internallog "github.com/tombee/daemond/internal/log"
)

// Handler answers IPC requests inside the daemon.
type Handler interface {
	HandleIPC(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Response

// HandleIPC calls f.
func (f HandlerFunc) HandleIPC(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve handles at most one pending request. It never blocks waiting for a
// request; it returns false when none was pending.
//
// The request file is deleted as soon as it has been read, which frees the
// slot for the next client before the handler runs. A request that cannot be
// decoded, or whose id is not a UUID, is dropped and reported as an error.
func (c *Channel) Serve(ctx context.Context, h Handler) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read ipc request: %w", err)
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("failed to remove ipc request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return true, fmt.Errorf("dropping malformed ipc request: %w", err)
	}
	if !ValidID(req.ID) {
		return true, fmt.Errorf("dropping ipc request %q with invalid id %q", req.Command, req.ID)
	}

	logger := internallog.WithRequestID(c.logger, req.ID)
	logger.Debug("ipc request received", slog.String(internallog.CommandKey, req.Command))

	resp := h.HandleIPC(ctx, req)

	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Errorf("failed to encode response: %v", err))
	}
	if err := writeFileAtomic(c.ResponsePath(req.ID), data); err != nil {
		return true, fmt.Errorf("failed to write ipc response: %w", err)
	}

	logger.Debug("ipc response written",
		slog.String(internallog.CommandKey, req.Command),
		slog.String("status", resp.Status.String()))
	return true, nil
}

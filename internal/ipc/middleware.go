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
	"fmt"
	"log/slog"
	"time"

	internallog "github.com/tombee/daemond/internal/log"
)

// Middleware wraps a Handler with extra behavior.
type Middleware func(next Handler) Handler

// Chain wraps h so that the first middleware runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LogRequest logs a request taken from the channel.
func LogRequest(logger *slog.Logger, req Request) {
	attrs := []any{
		"event", "ipc_request",
		internallog.CommandKey, req.Command,
		internallog.RequestIDKey, req.ID,
	}
	if len(req.Args) > 0 {
		attrs = append(attrs, "args", len(req.Args))
	}
	logger.Info("ipc request received", attrs...)
}

// LogResponse logs the outcome of a request. Error responses are logged at
// warn level with their payload.
func LogResponse(logger *slog.Logger, req Request, resp Response, elapsed time.Duration) {
	attrs := []any{
		"event", "ipc_response",
		internallog.CommandKey, req.Command,
		internallog.RequestIDKey, req.ID,
		"status", resp.Status.String(),
		internallog.DurationKey, elapsed.Milliseconds(),
	}

	level := slog.LevelInfo
	message := "ipc request completed"
	if !resp.IsSuccess() {
		attrs = append(attrs, "error", fmt.Sprintf("%v", resp.Payload))
		level = slog.LevelWarn
		message = "ipc request failed"
	}

	logger.Log(context.Background(), level, message, attrs...)
}

// WithLogging logs every request and its response.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = internallog.Discard()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) Response {
			start := time.Now()
			LogRequest(logger, req)
			resp := next.HandleIPC(ctx, req)
			LogResponse(logger, req, resp, time.Since(start))
			return resp
		})
	}
}

// WithRecorder reports the command and response status of every request
// to record.
func WithRecorder(record func(command, status string)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) Response {
			resp := next.HandleIPC(ctx, req)
			if record != nil {
				record(req.Command, resp.Status.String())
			}
			return resp
		})
	}
}

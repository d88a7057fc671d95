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
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	internallog "github.com/tombee/daemond/internal/log"
)

func jsonLogger(buf *bytes.Buffer) *internallog.Config {
	return &internallog.Config{Level: "info", Format: internallog.FormatJSON, Output: buf}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("expected valid JSON output: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := internallog.New(jsonLogger(&buf))

	req := NewRequest("withargs", Named("theArg", "x"))
	LogRequest(logger, req)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(entries))
	}
	e := entries[0]
	if e["event"] != "ipc_request" {
		t.Errorf("expected event 'ipc_request', got: %v", e["event"])
	}
	if e["command"] != "withargs" {
		t.Errorf("expected command 'withargs', got: %v", e["command"])
	}
	if e["request_id"] != req.ID {
		t.Errorf("expected request_id %q, got: %v", req.ID, e["request_id"])
	}
	if e["args"] != float64(1) {
		t.Errorf("expected args 1, got: %v", e["args"])
	}
}

func TestLogResponse_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := internallog.New(jsonLogger(&buf))

	req := NewRequest("failing")
	LogResponse(logger, req, Error("FailingIPC-output"), 15*time.Millisecond)

	e := decodeLines(t, &buf)[0]
	if e["level"] != "WARN" {
		t.Errorf("expected level WARN, got: %v", e["level"])
	}
	if e["msg"] != "ipc request failed" {
		t.Errorf("expected failure message, got: %v", e["msg"])
	}
	if e["error"] != "FailingIPC-output" {
		t.Errorf("expected error payload, got: %v", e["error"])
	}
	if e["duration_ms"] != float64(15) {
		t.Errorf("expected duration_ms 15, got: %v", e["duration_ms"])
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, req Request) Response {
				order = append(order, name)
				return next.HandleIPC(ctx, req)
			})
		}
	}

	h := Chain(HandlerFunc(func(ctx context.Context, req Request) Response {
		order = append(order, "handler")
		return Success("ok")
	}), mark("outer"), mark("inner"))

	h.HandleIPC(context.Background(), NewRequest("x"))

	want := "outer,inner,handler"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestWithLoggingAndRecorder(t *testing.T) {
	var buf bytes.Buffer
	var recorded []string

	h := Chain(
		HandlerFunc(func(ctx context.Context, req Request) Response {
			if req.Command == "bad" {
				return Errorf("Unknown command: %s", req.Command)
			}
			return Success("ok")
		}),
		WithLogging(internallog.New(jsonLogger(&buf))),
		WithRecorder(func(command, status string) {
			recorded = append(recorded, command+"="+status)
		}),
	)

	if resp := h.HandleIPC(context.Background(), NewRequest("good")); !resp.IsSuccess() {
		t.Fatalf("expected success, got %v", resp)
	}
	if resp := h.HandleIPC(context.Background(), NewRequest("bad")); resp.IsSuccess() {
		t.Fatalf("expected error, got %v", resp)
	}

	if got := strings.Join(recorded, ","); got != "good=success,bad=error" {
		t.Errorf("recorded = %s", got)
	}
	if n := len(decodeLines(t, &buf)); n != 4 {
		t.Errorf("expected 4 log lines, got %d", n)
	}
}

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

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/daemond/internal/ipc"
	"github.com/tombee/daemond/internal/lifecycle"
	daemonerrors "github.com/tombee/daemond/pkg/errors"
)

func TestAddCLI_Validation(t *testing.T) {
	tests := []struct {
		name    string
		handler any
		args    []ArgSpec
		wantErr bool
	}{
		{"no args", func() {}, nil, false},
		{"string args", func(a, b string) error { return nil }, []ArgSpec{Arg("a", ""), Arg("b", "")}, false},
		{"leading context", func(ctx context.Context, a string) {}, []ArgSpec{Arg("a", "")}, false},
		{"too few params", func(a string) {}, []ArgSpec{Arg("a", ""), Arg("b", "")}, true},
		{"too many params", func(a, b string) {}, []ArgSpec{Arg("a", "")}, true},
		{"non-string param", func(n int) {}, []ArgSpec{Arg("n", "")}, true},
		{"bad return", func() string { return "" }, nil, true},
		{"not a func", "nope", nil, true},
		{"nil func", (func())(nil), nil, true},
		{"variadic", func(a ...string) {}, []ArgSpec{Arg("a", "")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := New(nil)
			err := table.AddCLI("cmd", "desc", tt.handler, tt.args...)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cfgErr *daemonerrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, "command.cmd", cfgErr.Key)

			_, ok := table.LookupCLI("cmd")
			assert.False(t, ok, "failed registration must not be stored")
		})
	}
}

func TestAddIPC_Validation(t *testing.T) {
	tests := []struct {
		name    string
		handler any
		args    []ArgSpec
		wantErr bool
	}{
		{"typed params", func(n int, s string) ipc.Response { return ipc.Success(nil) }, []ArgSpec{Arg("n", ""), Arg("s", "")}, false},
		{"context", func(ctx context.Context) ipc.Response { return ipc.Success(nil) }, nil, false},
		{"arity mismatch", func(x string) ipc.Response { return ipc.Success(nil) }, nil, true},
		{"returns string", func() string { return "" }, nil, true},
		{"returns response and error", func() (ipc.Response, error) { return ipc.Response{}, nil }, nil, true},
		{"returns nothing", func() {}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(nil).AddIPC("cmd", "", tt.handler, tt.args...)
			if tt.wantErr {
				var cfgErr *daemonerrors.ConfigError
				assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustAdd_Panics(t *testing.T) {
	table := New(nil)
	assert.Panics(t, func() { table.MustAddCLI("bad", "", func(a string) {}) })
	assert.Panics(t, func() { table.MustAddIPC("bad", "", func() {}) })
	assert.NotPanics(t, func() { table.MustAddCLI("ok", "", func() {}) })
}

func TestInvokeCLI(t *testing.T) {
	table := New(nil)

	var got []string
	table.MustAddCLI("greet", "Say hello", func(ctx context.Context, name, greeting string) error {
		require.NotNil(t, ctx)
		got = []string{name, greeting}
		return nil
	}, Arg("name", "who"), Arg("greeting", "what"))

	table.MustAddCLI("fail", "Always fails", func() error {
		return fmt.Errorf("boom")
	})

	t.Run("passes args in order", func(t *testing.T) {
		require.NoError(t, table.InvokeCLI(context.Background(), "greet", []string{"bob", "hi", "extra"}))
		assert.Equal(t, []string{"bob", "hi"}, got)
	})

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // exercising the nil guard
		require.NoError(t, table.InvokeCLI(nil, "greet", []string{"a", "b"}))
	})

	t.Run("missing args", func(t *testing.T) {
		err := table.InvokeCLI(context.Background(), "greet", []string{"bob"})
		assert.ErrorIs(t, err, ErrMissingArguments)
		assert.Contains(t, err.Error(), "greet <name> <greeting>")
	})

	t.Run("unknown", func(t *testing.T) {
		err := table.InvokeCLI(context.Background(), "nope", nil)
		assert.ErrorIs(t, err, ErrUnknownCommand)
	})

	t.Run("handler error", func(t *testing.T) {
		err := table.InvokeCLI(context.Background(), "fail", nil)
		assert.EqualError(t, err, "boom")
	})
}

func TestDispatchIPC(t *testing.T) {
	table := New(nil)
	table.MustAddIPC("echo", "", func(x string) ipc.Response {
		return ipc.Success(x)
	}, Arg("x", ""))
	table.MustAddIPC("add", "", func(a, b int) ipc.Response {
		return ipc.Success(a + b)
	}, Arg("a", ""), Arg("b", ""))
	table.MustAddIPC("explode", "", func() ipc.Response {
		panic("kaboom")
	})
	table.MustAddIPC("refuse", "", func() ipc.Response {
		return ipc.Error("not today")
	})
	table.MustAddIPC("neutral", "", func() ipc.Response {
		return ipc.Response{Payload: "ok"}
	})

	ctx := context.Background()

	tests := []struct {
		name        string
		req         ipc.Request
		wantStatus  ipc.Status
		wantPayload any
	}{
		{"echo", ipc.NewRequest("echo", ipc.Named("x", "hello")), ipc.StatusSuccess, "hello"},
		{"named out of order", ipc.NewRequest("add", ipc.Named("b", 2.0), ipc.Named("a", 40.0)), ipc.StatusSuccess, 42},
		{"positional fallback", ipc.NewRequest("add", ipc.Named("0", 1.0), ipc.Named("1", 2.0)), ipc.StatusSuccess, 3},
		{"unknown", ipc.NewRequest("nope"), ipc.StatusError, "Unknown command: nope"},
		{"missing arg", ipc.NewRequest("echo"), ipc.StatusError, "Missing argument: x"},
		{"panic", ipc.NewRequest("explode"), ipc.StatusError, "kaboom"},
		{"handler error", ipc.NewRequest("refuse"), ipc.StatusError, "not today"},
		{"neutral promoted", ipc.NewRequest("neutral"), ipc.StatusSuccess, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := table.DispatchIPC(ctx, tt.req)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantPayload, resp.Payload)
		})
	}

	t.Run("type mismatch", func(t *testing.T) {
		resp := table.DispatchIPC(ctx, ipc.NewRequest("add", ipc.Named("a", "one"), ipc.Named("b", 2.0)))
		assert.Equal(t, ipc.StatusError, resp.Status)
		assert.Contains(t, resp.Payload, "Invalid argument a")
	})
}

func TestDispatchIPC_TestModeExitPropagates(t *testing.T) {
	t.Setenv(lifecycle.EnvTestMode, "1")

	table := New(nil)
	table.MustAddIPC("shutdown", "", func() ipc.Response {
		lifecycle.Exit(3)
		return ipc.Success("unreachable")
	})

	var resp ipc.Response
	code, exited := lifecycle.CatchExit(func() {
		resp = table.DispatchIPC(context.Background(), ipc.NewRequest("shutdown"))
	})
	assert.True(t, exited, "exit was swallowed, response %v", resp)
	assert.Equal(t, 3, code)
	assert.Equal(t, ipc.StatusNeutral, resp.Status)
}

func TestDispatchIPC_StructArgument(t *testing.T) {
	type window struct {
		From int `json:"from"`
		To   int `json:"to"`
	}

	table := New(nil)
	table.MustAddIPC("span", "", func(w window) ipc.Response {
		return ipc.Success(w.To - w.From)
	}, Arg("w", ""))

	var args ipc.Args
	require.NoError(t, json.Unmarshal([]byte(`{"w":{"from":3,"to":10}}`), &args))

	resp := table.DispatchIPC(context.Background(), ipc.Request{ID: uuid.NewString(), Command: "span", Args: args})
	assert.Equal(t, ipc.StatusSuccess, resp.Status)
	assert.Equal(t, 7, resp.Payload)
}

func TestReRegistrationReplaces(t *testing.T) {
	table := New(nil)
	table.MustAddCLI("a", "first", func() {})
	table.MustAddCLI("b", "second", func() {})
	table.MustAddCLI("a", "replaced", func() {})

	cmds := table.CLICommands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "a", cmds[0].Name)
	assert.Equal(t, "replaced", cmds[0].Description)
}

func TestVisible(t *testing.T) {
	table := New(nil)
	table.MustAddCLI("start", "Start daemon", func() {})
	table.MustAddCLI("startDaemon", "", func() {})
	table.MustAddCLI("stop", "Stop daemon", func() {})

	var names []string
	for _, cmd := range table.Visible() {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"start", "stop"}, names)
}

// End to end through the file channel: register echo, send, receive.
func TestEchoOverChannel(t *testing.T) {
	table := New(nil)
	table.MustAddIPC("echo", "", func(x string) ipc.Response {
		return ipc.Success(x)
	}, Arg("x", ""))

	path := filepath.Join(t.TempDir(), "echo.ipc")
	opts := ipc.Options{
		AcquireTimeout: time.Second,
		SendTimeout:    time.Second,
		ReceiveTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	}
	server := ipc.New(path, opts)
	client := ipc.New(path, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			_, _ = server.Serve(ctx, table)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	resp, err := client.Call(context.Background(), "echo", ipc.Named("x", "hello"))
	require.NoError(t, err)
	assert.Equal(t, ipc.StatusSuccess, resp.Status)
	assert.Equal(t, "hello", resp.Payload)

	resp, err = client.Call(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, ipc.StatusError, resp.Status)
	assert.Equal(t, "Unknown command: missing", resp.Payload)
}

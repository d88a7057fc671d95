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

package systemctl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	env  []string
	args string
}

// fakeRunner records invocations and answers from a table keyed by the
// joined arguments.
type fakeRunner struct {
	calls   []call
	outputs map[string]string
	errs    map[string]error
}

func (f *fakeRunner) run(_ context.Context, env []string, name string, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, call{env: env, args: name + " " + key})
	return []byte(f.outputs[key]), f.errs[key]
}

func newFake() (*fakeRunner, *Systemctl) {
	f := &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
	return f, NewWithRunner(f.run, nil)
}

func TestSystemctl_Verbs(t *testing.T) {
	ctx := context.Background()
	f, s := newFake()

	verbs := []struct {
		fn   func(context.Context, string) (string, error)
		want string
	}{
		{s.Enable, "systemctl enable tickerd"},
		{s.Disable, "systemctl disable tickerd"},
		{s.Start, "systemctl start tickerd"},
		{s.Stop, "systemctl stop tickerd"},
		{s.Restart, "systemctl restart tickerd"},
		{s.Reload, "systemctl reload tickerd"},
	}
	for i, v := range verbs {
		_, err := v.fn(ctx, "tickerd")
		require.NoError(t, err)
		assert.Equal(t, v.want, f.calls[i].args)
	}

	require.NoError(t, s.DaemonReload(ctx))
	assert.Equal(t, "systemctl daemon-reload", f.calls[len(f.calls)-1].args)
}

func TestSystemctl_StatusKeepsOutputOnFailure(t *testing.T) {
	f, s := newFake()
	f.outputs["-l status tickerd"] = "tickerd.service - Daemon tickerd\n   Active: inactive (dead)\n"
	f.errs["-l status tickerd"] = errors.New("exit status 3")

	out, err := s.Status(context.Background(), "tickerd")
	assert.Error(t, err)
	assert.Contains(t, out, "inactive (dead)")
	assert.Equal(t, []string{"SYSTEMD_COLORS=1"}, f.calls[0].env)
}

func TestSystemctl_Queries(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown service", func(t *testing.T) {
		f, s := newFake()
		f.outputs["is-active ghost"] = "unknown\n"
		assert.False(t, s.IsInstalled(ctx, "ghost"))
		assert.False(t, s.IsEnabled(ctx, "ghost"))
		assert.Len(t, f.calls, 2, "is-enabled must not run for unknown services")
	})

	t.Run("active and enabled", func(t *testing.T) {
		f, s := newFake()
		f.outputs["is-active tickerd"] = "active\n"
		f.outputs["is-enabled tickerd"] = "enabled\n"
		assert.True(t, s.IsInstalled(ctx, "tickerd"))
		assert.True(t, s.IsActive(ctx, "tickerd"))
		assert.True(t, s.IsEnabled(ctx, "tickerd"))
	})

	t.Run("installed but stopped", func(t *testing.T) {
		f, s := newFake()
		f.outputs["is-active tickerd"] = "inactive\n"
		f.errs["is-active tickerd"] = errors.New("exit status 3")
		f.outputs["is-enabled tickerd"] = "disabled\n"
		assert.True(t, s.IsInstalled(ctx, "tickerd"))
		assert.False(t, s.IsActive(ctx, "tickerd"))
		assert.False(t, s.IsEnabled(ctx, "tickerd"))
	})
}

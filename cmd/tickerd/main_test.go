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

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/daemond/pkg/daemon"
)

func TestTicker(t *testing.T) {
	tk := &ticker{}
	d, err := daemon.New("tickerd", tk)
	require.NoError(t, err)
	require.Same(t, d, tk.d)

	ctx := context.Background()
	require.NoError(t, tk.Setup(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, tk.Loop(ctx))
	}

	resp := tk.count()
	assert.True(t, resp.IsSuccess())
	assert.Contains(t, resp.String(), "3 ticks since ")

	require.NoError(t, tk.Reload(ctx))
	assert.Zero(t, tk.ticks)
}

func TestTicker_SetMessage(t *testing.T) {
	tk := &ticker{}

	resp := tk.setMessage("")
	assert.False(t, resp.IsSuccess())

	resp = tk.setMessage("hello")
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "hello", tk.message)
}

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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs_PreserveOrder(t *testing.T) {
	args := Args{Named("zeta", 1), Named("alpha", "a"), Named("mid", true)}

	data, err := json.Marshal(args)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":true}`, string(data))

	var back Args
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 3)
	assert.Equal(t, "zeta", back[0].Name)
	assert.Equal(t, "alpha", back[1].Name)
	assert.Equal(t, "mid", back[2].Name)
}

func TestArgs_Null(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","command":"c","args":null}`), &req))
	assert.Nil(t, req.Args)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","command":"c"}`), &req))
	assert.Empty(t, req.Args)
}

func TestArgs_RejectsArray(t *testing.T) {
	var args Args
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &args))
}

func TestArgs_Get(t *testing.T) {
	args := Args{Named("a", 1)}

	v, ok := args.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = args.Get("b")
	assert.False(t, ok)
}

func TestNewRequest_UniqueIDs(t *testing.T) {
	a := NewRequest("x")
	b := NewRequest("x")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestResponse_String(t *testing.T) {
	assert.Equal(t, "pong", Success("pong").String())
	assert.Equal(t, "Error: Unknown command: nope", Errorf("Unknown command: %s", "nope").String())
}

func TestResponse_Decode(t *testing.T) {
	// Simulate a payload that has crossed the wire.
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"status":1,"payload":{"current":1024,"peak":2048}}`), &resp))

	var mem struct {
		Current uint64 `json:"current"`
		Peak    uint64 `json:"peak"`
	}
	require.NoError(t, resp.Decode(&mem))
	assert.Equal(t, uint64(1024), mem.Current)
	assert.Equal(t, uint64(2048), mem.Peak)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "neutral", StatusNeutral.String())
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "error", StatusError.String())
}

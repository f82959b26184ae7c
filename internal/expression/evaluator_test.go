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

package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphub/internal/mcp"
)

var servers = []mcp.ServerInfo{
	{
		Name:    "github",
		Config:  `{"command":"npx","args":["-y","@modelcontextprotocol/server-github"],"alwaysAllow":["search"]}`,
		Status:  mcp.StatusConnected,
		Timeout: 60,
		Tools:   []mcp.Tool{{Name: "search"}, {Name: "create_issue"}},
	},
	{
		Name:     "files",
		Config:   `{"command":"node","disabled":true}`,
		Status:   mcp.StatusDisconnected,
		Disabled: true,
		Timeout:  30,
	},
	{
		Name:      "broken",
		Config:    `not json`,
		Status:    mcp.StatusDisconnected,
		Timeout:   60,
		Error:     "spawn ENOENT",
		Resources: []mcp.Resource{{URI: "file:///log"}},
	},
}

func names(infos []mcp.ServerInfo) []string {
	out := []string{}
	for _, i := range infos {
		out = append(out, i.Name)
	}
	return out
}

func TestEvaluator_Filter(t *testing.T) {
	tests := []struct {
		expression string
		want       []string
	}{
		{"", []string{"github", "files", "broken"}},
		{`status == "connected"`, []string{"github"}},
		{`disabled`, []string{"files"}},
		{`!disabled && error != ""`, []string{"broken"}},
		{`"search" in tools`, []string{"github"}},
		{`has(alwaysAllow, "search")`, []string{"github"}},
		{`len(tools) == 0`, []string{"files", "broken"}},
		{`timeout < 60`, []string{"files"}},
		{`command == "npx" && "-y" in args`, []string{"github"}},
		{`name startsWith "b"`, []string{"broken"}},
		{`any(resources, # startsWith "file://")`, []string{"broken"}},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := e.Filter(tt.expression, servers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestEvaluator_CompileErrors(t *testing.T) {
	e := New()

	err := e.Compile(`nope == 1`)
	require.Error(t, err)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeConfig))

	err = e.Compile(`name`)
	assert.Error(t, err, "non-boolean result")

	_, err = e.Match(`status ==`, servers[0])
	assert.Error(t, err)
	assert.Zero(t, e.CacheSize())
}

func TestEvaluator_Cache(t *testing.T) {
	e := New()
	for range 3 {
		ok, err := e.Match(`disabled`, servers[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, e.CacheSize())
}

func TestNewEnv(t *testing.T) {
	env := NewEnv(servers[0])
	assert.Equal(t, "npx", env.Command)
	assert.Equal(t, []string{"search"}, env.AlwaysAllow)
	assert.Equal(t, []string{"search", "create_issue"}, env.Tools)

	env = NewEnv(servers[2])
	assert.Empty(t, env.Command)
	assert.Equal(t, []string{"file:///log"}, env.Resources)
}

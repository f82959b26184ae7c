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

package mcp

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		check   func(t *testing.T, cfg ServerConfig)
	}{
		{
			name: "minimal",
			raw:  `{"command": "node"}`,
			check: func(t *testing.T, cfg ServerConfig) {
				assert.Equal(t, "node", cfg.Command)
				assert.Equal(t, DefaultTimeoutSeconds, cfg.Timeout)
				assert.NotNil(t, cfg.AlwaysAllow)
				assert.Empty(t, cfg.AlwaysAllow)
				assert.False(t, cfg.Disabled)
			},
		},
		{
			name: "all fields",
			raw:  `{"command": "npx", "args": ["-y", "srv"], "env": {"A": "1"}, "alwaysAllow": ["read"], "disabled": true, "timeout": 120, "extra": {"kept": true}}`,
			check: func(t *testing.T, cfg ServerConfig) {
				assert.Equal(t, []string{"-y", "srv"}, cfg.Args)
				assert.Equal(t, map[string]string{"A": "1"}, cfg.Env)
				assert.Equal(t, []string{"read"}, cfg.AlwaysAllow)
				assert.True(t, cfg.Disabled)
				assert.Equal(t, 120, cfg.Timeout)
			},
		},
		{name: "missing command", raw: `{"args": []}`, wantErr: "command is required"},
		{name: "empty command", raw: `{"command": "  "}`, wantErr: "command must not be empty"},
		{name: "command not a string", raw: `{"command": 42}`, wantErr: "command has the wrong type"},
		{name: "args not strings", raw: `{"command": "x", "args": [1, 2]}`, wantErr: "args"},
		{name: "env not a map", raw: `{"command": "x", "env": ["A=1"]}`, wantErr: "env has the wrong type"},
		{name: "timeout not a number", raw: `{"command": "x", "timeout": "60"}`, wantErr: "timeout has the wrong type"},
		{name: "bad env key", raw: `{"command": "x", "env": {"A=B": "1"}}`, wantErr: "invalid environment variable key"},
		{name: "not an object", raw: `"node"`, wantErr: "Invalid config for MCP server 'srv'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseServerConfig("srv", json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsCode(err, ErrorCodeConfig))
				assert.Contains(t, errorText(err), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-5, 1},
		{0, 1},
		{0.4, 1},
		{1, 1},
		{59.6, 60},
		{3600, 3600},
		{3600.4, 3600},
		{9999, 3600},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampTimeout(tt.in), "ClampTimeout(%v)", tt.in)
	}
}

func TestParseServerConfig_TimeoutClamped(t *testing.T) {
	cfg, err := ParseServerConfig("srv", json.RawMessage(`{"command": "x", "timeout": 9999}`))
	require.NoError(t, err)
	assert.Equal(t, 3600*time.Second, cfg.TimeoutDuration())

	cfg, err = ParseServerConfig("srv", json.RawMessage(`{"command": "x", "timeout": 0}`))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.TimeoutDuration())

	assert.Equal(t, 60*time.Second, ServerConfig{}.TimeoutDuration())
}

func TestServerConfig_Environ(t *testing.T) {
	cfg := ServerConfig{Env: map[string]string{"B": "2", "A": "1", "PATH": "/evil"}}
	assert.Equal(t, []string{"A=1", "B=2", "PATH=/usr/bin"}, cfg.Environ("/usr/bin"))
}

func TestIsSensitiveEnvKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"GITHUB_TOKEN", true},
		{"api_key", true},
		{"DB_PASSWORD", true},
		{"HOME", false},
		{"DEBUG", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSensitiveEnvKey(tt.key), tt.key)
	}
}

func TestRedactConfigJSON(t *testing.T) {
	redacted := RedactConfigJSON(`{"command":"x","env":{"GITHUB_TOKEN":"abc","DEBUG":"1"}}`)
	assert.NotContains(t, redacted, "abc")
	assert.Contains(t, redacted, RedactedValue)
	assert.Contains(t, redacted, `"DEBUG":"1"`)

	ref := RedactConfigJSON(`{"command":"x","env":{"GITHUB_TOKEN":"$secret:gh","API_KEY":"k"}}`)
	assert.Contains(t, ref, `"GITHUB_TOKEN":"$secret:gh"`)
	assert.NotContains(t, ref, `"k"`)

	plain := `{"command":"x","env":{"DEBUG":"1"}}`
	assert.Equal(t, plain, RedactConfigJSON(plain))
	assert.Equal(t, "not json", RedactConfigJSON("not json"))
}

func TestServerInfo_Redacted(t *testing.T) {
	info := ServerInfo{Name: "gh", Config: `{"command":"x","env":{"GITHUB_TOKEN":"abc"}}`}
	servers := RedactServers([]ServerInfo{info})

	require.Len(t, servers, 1)
	assert.NotContains(t, servers[0].Config, "abc")
	assert.Contains(t, info.Config, "abc", "original is not modified")
	assert.Equal(t, "gh", servers[0].Name)
}

func TestConfigEqual(t *testing.T) {
	assert.True(t, configEqual(
		json.RawMessage(`{"command": "x", "args": ["a"]}`),
		json.RawMessage(`{"args":["a"],"command":"x"}`),
	))
	assert.False(t, configEqual(
		json.RawMessage(`{"command": "x", "args": ["a", "b"]}`),
		json.RawMessage(`{"command": "x", "args": ["b", "a"]}`),
	))
	assert.False(t, configEqual(
		json.RawMessage(`{"command": "x"}`),
		json.RawMessage(`{"command": "x", "disabled": false}`),
	))
}

func TestErrorText(t *testing.T) {
	err := ErrServerNotFound("a")
	assert.Equal(t, "MCP server 'a' not found", errorText(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Error: MCP server 'a' not found\n"))
	assert.Contains(t, err.Error(), "Suggestions:")

	wrapped := WrapError(assert.AnError, ErrorCodeTransport, "boom")
	assert.Equal(t, ErrorCodeTransport, wrapped.Code)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Same(t, wrapped, WrapError(wrapped, ErrorCodeLaunch, "ignored"))
}

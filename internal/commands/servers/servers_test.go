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

package servers

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphub/internal/cli"
	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/mcp"
	mcptesting "github.com/tombee/mcphub/internal/mcp/testing"
)

const settings = `{
  "mcpServers": {
    "github": {"command": "mock-github", "alwaysAllow": []},
    "off": {"command": "mock-off", "disabled": true}
  },
  "theme": "dark"
}`

type result struct {
	stdout string
	stderr string
	err    error
}

type fixture struct {
	path    string
	factory *mcptesting.MockFactory
}

func newFixture(t *testing.T, doc string) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	factory := mcptesting.NewMockFactory()
	factory.SetServer("github", mcptesting.MockServer{
		Tools:  []mcp.Tool{{Name: "search"}, {Name: "explode"}},
		Stderr: []string{"github server listening on stdio"},
		CallHandler: func(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResponse, error) {
			if name == "explode" {
				return &mcp.ToolCallResponse{IsError: true, Content: []mcp.ContentItem{{Type: "text", Text: "boom"}}}, nil
			}
			q, _ := args["q"].(string)
			return &mcp.ToolCallResponse{Content: []mcp.ContentItem{{Type: "text", Text: "results for " + q}}}, nil
		},
	})
	shared.SetTransportFactoryForTest(factory.Factory)
	shared.SetInteractiveForTest(false)
	t.Cleanup(func() {
		shared.SetTransportFactoryForTest(nil)
		shared.ResetFlagsForTest()
	})
	t.Setenv("NO_COLOR", "1")

	return &fixture{path: path, factory: factory}
}

func (f *fixture) run(args ...string) result {
	root := cli.NewRootCommand()
	root.AddCommand(NewCommands()...)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--settings", f.path))

	err := root.Execute()
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (f *fixture) server(t *testing.T, name string) (mcp.ServerConfig, bool) {
	t.Helper()
	doc, err := mcp.NewFileSettingsStore(f.path).Load()
	require.NoError(t, err)
	raw, ok := doc.Server(name)
	if !ok {
		return mcp.ServerConfig{}, false
	}
	cfg, err := mcp.ParseServerConfig(name, raw)
	require.NoError(t, err)
	return cfg, true
}

func TestList(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "github")
	assert.Contains(t, res.stdout, "connected")
	assert.NotContains(t, res.stdout, "off")

	res = f.run("list", "--all", "-o", "json")
	require.NoError(t, res.err)
	var servers []mcp.ServerInfo
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &servers))
	require.Len(t, servers, 2)
	assert.Equal(t, "github", servers[0].Name)
	assert.Len(t, servers[0].Tools, 2)
	assert.True(t, servers[1].Disabled)
	assert.Equal(t, 0, f.factory.Created("off"))
}

func TestList_JQ(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("list", "--all", "--jq", "[.[].name]")
	require.NoError(t, res.err)
	assert.JSONEq(t, `["github","off"]`, res.stdout)
}

func TestList_YAML(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("list", "-o", "yaml")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "name: github")
	assert.Contains(t, res.stdout, "status: connected")
}

func TestList_Where(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("list", "--all", "--where", "disabled", "--jq", "[.[].name]")
	require.NoError(t, res.err)
	assert.JSONEq(t, `["off"]`, res.stdout)

	res = f.run("list", "--where", `has(tools, "explode")`, "-o", "json")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"name": "github"`)

	res = f.run("list", "--where", "unknown_field")
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCodeFor(res.err))
	assert.Equal(t, 0, f.factory.Created("github"), "bad expressions fail before connecting")
}

func TestList_RedactsEnv(t *testing.T) {
	f := newFixture(t, `{"mcpServers": {"github": {"command": "mock-github", "env": {"GITHUB_TOKEN": "ghp_live"}}}}`)

	res := f.run("list", "-o", "json")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "ghp_live")
	assert.Contains(t, res.stdout, mcp.RedactedValue)
	assert.Equal(t, "ghp_live", f.factory.Latest("github").Config().Env["GITHUB_TOKEN"])
}

func TestList_InvalidSettings(t *testing.T) {
	f := newFixture(t, `{"mcpServers": "nope"}`)

	res := f.run("list")
	require.Error(t, res.err)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCodeFor(res.err))
}

func TestCall(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("call", "github", "search", `{"q":"mcp"}`)
	require.NoError(t, res.err)
	assert.Equal(t, "results for mcp\n", res.stdout)

	calls := f.factory.Latest("github").Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"q": "mcp"}, calls[0].Args)
	assert.False(t, calls[0].Deadline.IsZero(), "calls carry the server timeout")
}

func TestCall_Errors(t *testing.T) {
	f := newFixture(t, settings)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"tool error", []string{"call", "github", "explode"}, shared.ExitToolError},
		{"bad arguments", []string{"call", "github", "search", "[1]"}, shared.ExitInvalidConfig},
		{"unknown server", []string{"call", "nope", "search"}, shared.ExitNotFound},
		{"disabled server", []string{"call", "off", "search"}, shared.ExitUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.run(tt.args...)
			require.Error(t, res.err)
			assert.Equal(t, tt.code, shared.ExitCodeFor(res.err))
		})
	}
}

func TestRead(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("read", "github", "file:///notes.txt")
	require.NoError(t, res.err)
	assert.Equal(t, "file:///notes.txt\n", res.stdout)
}

func TestEnableDisable(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("enable", "off")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Enabled MCP server off")
	cfg, _ := f.server(t, "off")
	assert.False(t, cfg.Disabled)
	assert.Equal(t, 1, f.factory.Created("off"), "enabling connects the server")

	res = f.run("disable", "github", "-o", "json")
	require.NoError(t, res.err)
	var info mcp.ServerInfo
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.True(t, info.Disabled)
	cfg, _ = f.server(t, "github")
	assert.True(t, cfg.Disabled)

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"theme": "dark"`, "unknown keys survive edits")
}

func TestTimeout(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("timeout", "github", "9999")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "3600s")
	cfg, _ := f.server(t, "github")
	assert.Equal(t, 3600, cfg.Timeout)

	res = f.run("timeout", "github", "soon")
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCodeFor(res.err))
}

func TestAllow(t *testing.T) {
	f := newFixture(t, settings)

	require.NoError(t, f.run("allow", "github", "search").err)
	cfg, _ := f.server(t, "github")
	assert.Equal(t, []string{"search"}, cfg.AlwaysAllow)

	require.NoError(t, f.run("allow", "github", "search", "--revoke").err)
	cfg, _ = f.server(t, "github")
	assert.Empty(t, cfg.AlwaysAllow)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("delete", "github")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Deleted MCP server: github")
	_, ok := f.server(t, "github")
	assert.False(t, ok)

	res = f.run("delete", "github")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCodeFor(res.err))
}

func TestLogs(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("logs", "github")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "github server listening on stdio")

	res = f.run("logs", "nope")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCodeFor(res.err))
}

func TestInvalidOutputFormat(t *testing.T) {
	f := newFixture(t, settings)

	res := f.run("list", "-o", "xml")
	require.Error(t, res.err)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCodeFor(res.err))
}

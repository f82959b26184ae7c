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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphub/internal/mcp"
	mcptesting "github.com/tombee/mcphub/internal/mcp/testing"
)

const settings = `{
  "mcpServers": {
    "github": {"command": "mock-github", "timeout": 1},
    "off": {"command": "mock-off", "disabled": true},
    "broken": {"command": "mock-broken"}
  }
}`

type apiFixture struct {
	server  *httptest.Server
	hub     *mcp.Hub
	factory *mcptesting.MockFactory
	path    string
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(settings), 0600))

	factory := mcptesting.NewMockFactory()
	factory.SetServer("github", mcptesting.MockServer{
		Tools: []mcp.Tool{{Name: "search"}, {Name: "slow"}},
		CallHandler: func(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResponse, error) {
			if name == "slow" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			query, _ := args["q"].(string)
			return &mcp.ToolCallResponse{Content: []mcp.ContentItem{{Type: "text", Text: "found " + query}}}, nil
		},
		Stderr: []string{"github server ready"},
	})
	factory.SetServer("broken", mcptesting.MockServer{ConnectError: errors.New("handshake refused")})

	hub, err := mcp.NewHub(mcp.HubConfig{
		Store:            mcp.NewFileSettingsStore(path),
		TransportFactory: factory.Factory,
		RestartDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Dispose(context.Background()) })
	_ = hub.Start(context.Background())

	router, err := NewRouter(Config{Hub: hub})
	require.NoError(t, err)

	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, hub: hub, factory: factory, path: path}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestListServers(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/servers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[ListResponse](t, body)
	names := []string{}
	for _, s := range list.Servers {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"github", "broken"}, names)

	_, body = f.do(t, http.MethodGet, "/v1/servers?all=true", "")
	assert.Len(t, decode[ListResponse](t, body).Servers, 3)
}

func TestListServers_Where(t *testing.T) {
	f := newFixture(t)

	where := url.QueryEscape(`status == "connected" && "search" in tools`)
	resp, body := f.do(t, http.MethodGet, "/v1/servers?all=true&where="+where, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[ListResponse](t, body)
	require.Len(t, list.Servers, 1)
	assert.Equal(t, "github", list.Servers[0].Name)

	resp, body = f.do(t, http.MethodGet, "/v1/servers?where="+url.QueryEscape("bogus > 1"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "CONFIG", decode[ErrorResponse](t, body).Code)
}

func TestServers_RedactEnvValues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.path, []byte(`{"mcpServers": {
		"github": {"command": "mock-github", "env": {"GITHUB_TOKEN": "ghp_live", "API_KEY": "$secret:api", "DEBUG": "1"}}
	}}`), 0600))

	resp, body := f.do(t, http.MethodPost, "/v1/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "ghp_live")

	for _, path := range []string{"/v1/servers", "/v1/servers/github"} {
		resp, body := f.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotContains(t, string(body), "ghp_live", path)
		assert.Contains(t, string(body), mcp.RedactedValue, path)
		assert.Contains(t, string(body), "$secret:api", path)
	}

	info, err := f.hub.GetServer("github")
	require.NoError(t, err)
	assert.Contains(t, info.Config, "ghp_live", "the hub keeps the real config")
	assert.Equal(t, "ghp_live", f.factory.Latest("github").Config().Env["GITHUB_TOKEN"])
}

func TestGetServer(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/servers/github", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[mcp.ServerInfo](t, body)
	assert.Equal(t, mcp.StatusConnected, info.Status)
	assert.Len(t, info.Tools, 2)

	resp, body = f.do(t, http.MethodGet, "/v1/servers/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, body).Code)
}

func TestCallTool(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/servers/github/tools/search", `{"q":"mcp"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	result := decode[mcp.ToolCallResponse](t, body)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "found mcp", result.Content[0].Text)

	resp, _ = f.do(t, http.MethodPost, "/v1/servers/github/tools/search", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "empty body means no arguments")

	resp, _ = f.do(t, http.MethodPost, "/v1/servers/github/tools/search", `[1,2`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallTool_ErrorStatuses(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown server", "/v1/servers/nope/tools/x", http.StatusNotFound, "NOT_FOUND"},
		{"disabled server", "/v1/servers/off/tools/x", http.StatusConflict, "DISABLED"},
		{"not connected", "/v1/servers/broken/tools/x", http.StatusServiceUnavailable, "NOT_CONNECTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tt.path, "{}")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, body).Code)
		})
	}
	assert.Equal(t, 0, f.factory.Created("off"), "disabled server must not be launched")
}

func TestCallTool_Timeout(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/servers/github/tools/slow", "{}")
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "TIMEOUT", decode[ErrorResponse](t, body).Code)
}

func TestReadResource(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/servers/github/resource?uri=file%3A%2F%2F%2Ftmp%2Fa", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[mcp.ResourceReadResponse](t, body)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "file:///tmp/a", result.Contents[0].URI)

	resp, _ = f.do(t, http.MethodGet, "/v1/servers/github/resource", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEnableDisable(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/servers/off/enable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	info := decode[mcp.ServerInfo](t, body)
	assert.False(t, info.Disabled)

	settings, err := mcp.NewFileSettingsStore(f.path).Load()
	require.NoError(t, err)
	raw, ok := settings.Server("off")
	require.True(t, ok)
	cfg, err := mcp.ParseServerConfig("off", raw)
	require.NoError(t, err)
	assert.False(t, cfg.Disabled, "enable must persist")

	resp, body = f.do(t, http.MethodPost, "/v1/servers/github/disable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[mcp.ServerInfo](t, body).Disabled)

	resp, _ = f.do(t, http.MethodPost, "/v1/servers/nope/disable", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateTimeout(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/v1/servers/github/timeout", `{"seconds": 9999}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 3600, decode[mcp.ServerInfo](t, body).Timeout)

	resp, _ = f.do(t, http.MethodPut, "/v1/servers/github/timeout", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlwaysAllow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/v1/servers/github/tools/search/always-allow", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	info := decode[mcp.ServerInfo](t, body)
	require.NotEmpty(t, info.Tools)
	assert.True(t, info.Tools[0].AlwaysAllow)

	resp, body = f.do(t, http.MethodDelete, "/v1/servers/github/tools/search/always-allow", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[mcp.ServerInfo](t, body).Tools[0].AlwaysAllow)
}

func TestRestartAndDelete(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/servers/github/restart", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, mcp.StatusConnected, decode[mcp.ServerInfo](t, body).Status)
	assert.Equal(t, 2, f.factory.Created("github"))

	resp, _ = f.do(t, http.MethodDelete, "/v1/servers/github", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.factory.Latest("github").Closed())

	resp, _ = f.do(t, http.MethodGet, "/v1/servers/github", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/v1/servers/github", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerLogs(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/servers/github/logs?lines=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[LogsResponse](t, body)
	require.NotEmpty(t, logs.Logs)
	assert.Equal(t, "github server ready", logs.Logs[len(logs.Logs)-1].Message)

	resp, _ = f.do(t, http.MethodGet, "/v1/servers/github/logs?lines=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReload_InvalidSettings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.path, []byte(`{"mcpServers": [`), 0600))

	resp, body := f.do(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "CONFIG", decode[ErrorResponse](t, body).Code)

	_, body = f.do(t, http.MethodGet, "/v1/servers", "")
	assert.Len(t, decode[ListResponse](t, body).Servers, 2, "broken settings leave connections alone")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, body)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1/2 connected (1 disconnected)", health.Checks["mcp_servers"])

	resp, body = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mcphub_")
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, StatusForCode(mcp.ErrorCodeProtocol))
	assert.Equal(t, http.StatusBadGateway, StatusForCode(mcp.ErrorCodeLaunch))
	assert.Equal(t, http.StatusBadRequest, StatusForCode(mcp.ErrorCodeConfig))
}

func TestNewRouter_RequiresHub(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.Error(t, err)
}

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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphub/internal/history"
	"github.com/tombee/mcphub/internal/mcp"
)

func TestListEvents(t *testing.T) {
	f := newFixture(t)

	store, err := history.Open(context.Background(), history.Config{Path: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now()
	store.Record(mcp.ServerEvent{Type: mcp.EventConnected, ServerName: "github", Timestamp: now.Add(-2 * time.Hour)})
	store.Record(mcp.ServerEvent{Type: mcp.EventDisconnected, ServerName: "broken", Timestamp: now.Add(-time.Minute)})
	store.Record(mcp.ServerEvent{Type: mcp.EventConnected, ServerName: "github", Timestamp: now})
	require.NoError(t, store.Flush(context.Background()))

	router, err := NewRouter(Config{Hub: f.hub, History: store})
	require.NoError(t, err)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	f.server = srv

	resp, body := f.do(t, http.MethodGet, "/v1/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[EventsResponse](t, body).Events, 3)

	_, body = f.do(t, http.MethodGet, "/v1/events?server=github&since=1h", "")
	events := decode[EventsResponse](t, body).Events
	require.Len(t, events, 1)
	assert.Equal(t, mcp.EventConnected, events[0].Type)

	_, body = f.do(t, http.MethodGet, "/v1/events?type=disconnected&limit=5", "")
	events = decode[EventsResponse](t, body).Events
	require.Len(t, events, 1)
	assert.Equal(t, "broken", events[0].ServerName)

	resp, _ = f.do(t, http.MethodGet, "/v1/events?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListEvents_NotConfigured(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/v1/events", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseSince("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), got)

	got, err = ParseSince("2025-05-31T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseSince("soon", now)
	assert.Error(t, err)
}

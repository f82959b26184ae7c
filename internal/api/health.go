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
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/tombee/mcphub/internal/mcp"
)

// HealthResponse is the response format for /healthz.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// handleHealth handles GET /healthz. The hub being up is healthy even when
// individual servers are not.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(r.started).Round(time.Second).String(),
		Checks: map[string]string{
			"api":         "ok",
			"runtime":     runtime.Version(),
			"mcp_servers": formatServerStatus(r.hub.ListAllServers()),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatServerStatus summarizes connection states for display.
func formatServerStatus(servers []mcp.ServerInfo) string {
	if len(servers) == 0 {
		return "none"
	}

	var enabled, connected, failed int
	for _, s := range servers {
		if s.Disabled {
			continue
		}
		enabled++
		switch s.Status {
		case mcp.StatusConnected:
			connected++
		case mcp.StatusDisconnected:
			failed++
		}
	}

	if failed > 0 {
		return fmt.Sprintf("%d/%d connected (%d disconnected)", connected, enabled, failed)
	}
	return fmt.Sprintf("%d/%d connected", connected, enabled)
}

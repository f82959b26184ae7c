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

// Package api exposes the hub over HTTP for mcphub serve.
//
// Routes mirror the hub facade one to one. Errors carry the hub's error
// code and map onto HTTP status codes:
//
//	NOT_FOUND      404
//	DISABLED       409
//	NOT_CONNECTED  503
//	TIMEOUT        504
//	CONFIG         400
//	anything else  502
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tombee/mcphub/internal/mcp"
)

// Hub is the subset of the hub facade served over HTTP.
type Hub interface {
	ListEnabledServers() []mcp.ServerInfo
	ListAllServers() []mcp.ServerInfo
	GetServer(name string) (mcp.ServerInfo, error)
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.ToolCallResponse, error)
	ReadResource(ctx context.Context, server, uri string) (*mcp.ResourceReadResponse, error)
	ToggleDisabled(ctx context.Context, server string, disabled bool) error
	UpdateTimeout(ctx context.Context, server string, seconds float64) error
	ToggleToolAlwaysAllow(ctx context.Context, server, tool string, allow bool) error
	DeleteServer(ctx context.Context, server string) error
	RestartServer(ctx context.Context, server string) error
	ServerLogs(server string, n int) ([]mcp.LogEntry, error)
	Reload(ctx context.Context) error
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeHubError writes err with the status its code maps to.
func writeHubError(w http.ResponseWriter, err error) {
	mcpErr := mcp.GetMCPError(err)
	if mcpErr == nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, StatusForCode(mcpErr.Code), ErrorResponse{
		Error:       mcpErr.Message,
		Code:        string(mcpErr.Code),
		Detail:      mcpErr.Detail,
		Suggestions: mcpErr.Suggestions,
	})
}

// StatusForCode maps a hub error code to an HTTP status.
func StatusForCode(code mcp.MCPErrorCode) int {
	switch code {
	case mcp.ErrorCodeNotFound:
		return http.StatusNotFound
	case mcp.ErrorCodeDisabled:
		return http.StatusConflict
	case mcp.ErrorCodeNotConnected:
		return http.StatusServiceUnavailable
	case mcp.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case mcp.ErrorCodeConfig:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/mcphub/internal/expression"
	"github.com/tombee/mcphub/internal/log"
	"github.com/tombee/mcphub/internal/mcp"
)

const (
	defaultLogLines = 100
	maxBodyBytes    = 4 << 20
)

// Config configures a Router.
type Config struct {
	Hub    Hub
	Logger *slog.Logger

	// Metrics serves /metrics (default: promhttp.Handler()).
	Metrics http.Handler

	// Meter records request metrics (default: the global meter provider).
	Meter metric.Meter

	// Auth, when set, requires a bearer token on every route but /healthz.
	Auth *Auth

	// History serves GET /v1/events when set.
	History EventQuerier
}

// Router serves the hub API.
type Router struct {
	hub     Hub
	logger  *slog.Logger
	metrics http.Handler
	http    *httpMetrics
	where   *expression.Evaluator
	auth    *Auth
	history EventQuerier
	started time.Time
}

// NewRouter creates a router over cfg.Hub.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Hub == nil {
		return nil, errors.New("api: hub is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("github.com/tombee/mcphub/internal/api")
	}
	httpMetrics, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Router{
		hub:     cfg.Hub,
		logger:  log.WithComponent(logger, "api"),
		metrics: metricsHandler,
		http:    httpMetrics,
		where:   expression.New(),
		auth:    cfg.Auth,
		history: cfg.History,
		started: time.Now(),
	}, nil
}

// Handler returns the routed handler wrapped in logging and metrics middleware.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	r.RegisterRoutes(mux)
	var h http.Handler = mux
	if r.auth != nil {
		h = r.auth.Middleware(h)
	}
	return log.Middleware(r.logger, r.http.middleware(h))
}

// RegisterRoutes registers the API routes on mux.
func (r *Router) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/servers", r.handleListServers)
	mux.HandleFunc("GET /v1/servers/{name}", r.handleGetServer)
	mux.HandleFunc("DELETE /v1/servers/{name}", r.handleDeleteServer)
	mux.HandleFunc("GET /v1/servers/{name}/logs", r.handleGetServerLogs)
	mux.HandleFunc("POST /v1/servers/{name}/tools/{tool}", r.handleCallTool)
	mux.HandleFunc("GET /v1/servers/{name}/resource", r.handleReadResource)
	mux.HandleFunc("POST /v1/servers/{name}/enable", r.handleSetDisabled(false))
	mux.HandleFunc("POST /v1/servers/{name}/disable", r.handleSetDisabled(true))
	mux.HandleFunc("PUT /v1/servers/{name}/timeout", r.handleUpdateTimeout)
	mux.HandleFunc("PUT /v1/servers/{name}/tools/{tool}/always-allow", r.handleAlwaysAllow(true))
	mux.HandleFunc("DELETE /v1/servers/{name}/tools/{tool}/always-allow", r.handleAlwaysAllow(false))
	mux.HandleFunc("POST /v1/servers/{name}/restart", r.handleRestartServer)
	mux.HandleFunc("POST /v1/reload", r.handleReload)
	if r.history != nil {
		mux.HandleFunc("GET /v1/events", r.handleListEvents)
	}
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.Handle("GET /metrics", r.metrics)
}

// ListResponse is the body of GET /v1/servers.
type ListResponse struct {
	Servers []mcp.ServerInfo `json:"servers"`
}

// handleListServers handles GET /v1/servers[?all=true][&where=<expr>]
func (r *Router) handleListServers(w http.ResponseWriter, req *http.Request) {
	var servers []mcp.ServerInfo
	if all, _ := strconv.ParseBool(req.URL.Query().Get("all")); all {
		servers = r.hub.ListAllServers()
	} else {
		servers = r.hub.ListEnabledServers()
	}
	servers, err := r.where.Filter(req.URL.Query().Get("where"), servers)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Servers: mcp.RedactServers(servers)})
}

// handleGetServer handles GET /v1/servers/{name}
func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	r.writeServer(w, req.PathValue("name"))
}

func (r *Router) writeServer(w http.ResponseWriter, name string) {
	info, err := r.hub.GetServer(name)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info.Redacted())
}

// LogsResponse is the body of GET /v1/servers/{name}/logs.
type LogsResponse struct {
	Server string         `json:"server"`
	Logs   []mcp.LogEntry `json:"logs"`
}

// handleGetServerLogs handles GET /v1/servers/{name}/logs
func (r *Router) handleGetServerLogs(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")

	lines := defaultLogLines
	if s := req.URL.Query().Get("lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid lines value %q", s))
			return
		}
		lines = n
	}

	entries, err := r.hub.ServerLogs(name, lines)
	if err != nil {
		writeHubError(w, err)
		return
	}
	if entries == nil {
		entries = []mcp.LogEntry{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Server: name, Logs: entries})
}

// handleCallTool handles POST /v1/servers/{name}/tools/{tool}
// The body is the tool's argument object and may be empty.
func (r *Router) handleCallTool(w http.ResponseWriter, req *http.Request) {
	var args map[string]any
	if err := decodeBody(w, req, &args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := r.hub.CallTool(req.Context(), req.PathValue("name"), req.PathValue("tool"), args)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReadResource handles GET /v1/servers/{name}/resource?uri=
func (r *Router) handleReadResource(w http.ResponseWriter, req *http.Request) {
	uri := req.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri query parameter is required")
		return
	}

	resp, err := r.hub.ReadResource(req.Context(), req.PathValue("name"), uri)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetDisabled handles POST /v1/servers/{name}/enable and /disable
func (r *Router) handleSetDisabled(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name := req.PathValue("name")
		if err := r.hub.ToggleDisabled(req.Context(), name, disabled); err != nil {
			writeHubError(w, err)
			return
		}
		r.writeServer(w, name)
	}
}

// TimeoutRequest is the body of PUT /v1/servers/{name}/timeout.
type TimeoutRequest struct {
	Seconds *float64 `json:"seconds"`
}

// handleUpdateTimeout handles PUT /v1/servers/{name}/timeout
func (r *Router) handleUpdateTimeout(w http.ResponseWriter, req *http.Request) {
	var body TimeoutRequest
	if err := decodeBody(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Seconds == nil {
		writeError(w, http.StatusBadRequest, "seconds is required")
		return
	}

	name := req.PathValue("name")
	if err := r.hub.UpdateTimeout(req.Context(), name, *body.Seconds); err != nil {
		writeHubError(w, err)
		return
	}
	r.writeServer(w, name)
}

// handleAlwaysAllow handles PUT and DELETE /v1/servers/{name}/tools/{tool}/always-allow
func (r *Router) handleAlwaysAllow(allow bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name := req.PathValue("name")
		if err := r.hub.ToggleToolAlwaysAllow(req.Context(), name, req.PathValue("tool"), allow); err != nil {
			writeHubError(w, err)
			return
		}
		r.writeServer(w, name)
	}
}

// handleRestartServer handles POST /v1/servers/{name}/restart
func (r *Router) handleRestartServer(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.hub.RestartServer(req.Context(), name); err != nil {
		writeHubError(w, err)
		return
	}
	r.writeServer(w, name)
}

// handleDeleteServer handles DELETE /v1/servers/{name}
func (r *Router) handleDeleteServer(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.hub.DeleteServer(req.Context(), name); err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// handleReload handles POST /v1/reload
func (r *Router) handleReload(w http.ResponseWriter, req *http.Request) {
	if err := r.hub.Reload(req.Context()); err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Servers: mcp.RedactServers(r.hub.ListAllServers())})
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tombee/mcphub/internal/history"
	"github.com/tombee/mcphub/internal/mcp"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 10000
)

// EventQuerier reads recorded server events.
type EventQuerier interface {
	Query(ctx context.Context, filter history.Filter) ([]mcp.ServerEvent, error)
}

// EventsResponse is the body of GET /v1/events.
type EventsResponse struct {
	Events []mcp.ServerEvent `json:"events"`
}

// handleListEvents handles GET /v1/events?server=&type=&since=&limit=
func (r *Router) handleListEvents(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := history.Filter{
		Server: q.Get("server"),
		Type:   mcp.EventType(q.Get("type")),
		Limit:  defaultEventLimit,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxEventLimit))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		since, err := ParseSince(v, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Since = since
	}

	events, err := r.history.Query(req.Context(), filter)
	if err != nil {
		r.logger.Error("failed to query history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events})
}

// ParseSince accepts an RFC 3339 time or a duration before now ("90m").
func ParseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be a duration or RFC 3339 time: %q", v)
	}
	return t, nil
}

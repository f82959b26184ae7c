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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// hubConnections tracks registry entries by status
	hubConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcphub_connections",
			Help: "Current MCP server connections by status",
		},
		[]string{"status"},
	)

	// hubReconciles tracks reconciliation passes
	hubReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_reconcile_total",
			Help: "Total reconciliation passes by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// hubReconcileDuration tracks how long a reconciliation pass holds the guard
	hubReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mcphub_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// hubReconcileOps tracks per-server reconciliation decisions
	hubReconcileOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_reconcile_operations_total",
			Help: "Total per-server reconciliation operations by kind",
		},
		[]string{"op"},
	)

	// hubToolCalls tracks tool invocations
	hubToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_tool_calls_total",
			Help: "Total tool calls by server and result",
		},
		[]string{"server", "result"},
	)

	// hubToolCallDuration tracks tool call latency
	hubToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_tool_call_duration_seconds",
			Help:    "Duration of tool calls by server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	// hubTransportEvents tracks asynchronous transport events
	hubTransportEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_transport_events_total",
			Help: "Total transport events by server and event type",
		},
		[]string{"server", "event"},
	)

	// hubArtifactRestarts tracks restarts triggered by build artifact changes
	hubArtifactRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_artifact_restarts_total",
			Help: "Total build artifact restarts by server and outcome",
		},
		[]string{"server", "outcome"},
	)
)

// recordConnections sets the connection gauge from a registry snapshot.
func recordConnections(servers []ServerInfo) {
	counts := map[ConnectionStatus]int{
		StatusConnecting:   0,
		StatusConnected:    0,
		StatusDisconnected: 0,
	}
	for _, s := range servers {
		counts[s.Status]++
	}
	for status, n := range counts {
		hubConnections.WithLabelValues(string(status)).Set(float64(n))
	}
}

// recordReconcile records one reconciliation pass
func recordReconcile(trigger string, err error, elapsed time.Duration) {
	hubReconciles.WithLabelValues(trigger, resultLabel(err)).Inc()
	hubReconcileDuration.Observe(elapsed.Seconds())
}

// recordReconcileOp records one per-server decision
func recordReconcileOp(op string) {
	hubReconcileOps.WithLabelValues(op).Inc()
}

// recordToolCall records one tool call
func recordToolCall(server string, err error, elapsed time.Duration) {
	hubToolCalls.WithLabelValues(server, resultLabel(err)).Inc()
	hubToolCallDuration.WithLabelValues(server).Observe(elapsed.Seconds())
}

// recordTransportEvent increments the transport event counter
func recordTransportEvent(server, event string) {
	hubTransportEvents.WithLabelValues(server, event).Inc()
}

// recordArtifactRestart increments the artifact restart counter
func recordArtifactRestart(server, outcome string) {
	hubArtifactRestarts.WithLabelValues(server, outcome).Inc()
}

// resultLabel maps an error to a metric label: "ok" or the MCPError code.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if mcpErr := GetMCPError(err); mcpErr != nil {
		return string(mcpErr.Code)
	}
	return "error"
}

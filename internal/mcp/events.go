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
	"context"
	"log/slog"
	"time"
)

// EventType represents the type of hub lifecycle event.
type EventType string

const (
	// EventConnecting indicates a connection attempt began.
	EventConnecting EventType = "connecting"
	// EventConnected indicates the handshake completed.
	EventConnected EventType = "connected"
	// EventDisconnected indicates a connection ended or failed.
	EventDisconnected EventType = "disconnected"
	// EventRemoved indicates a connection was closed and dropped from the registry.
	EventRemoved EventType = "removed"
	// EventRestarting indicates an explicit or artifact-triggered restart.
	EventRestarting EventType = "restarting"
	// EventCapabilitiesChanged indicates the cached capability lists were refreshed.
	EventCapabilitiesChanged EventType = "capabilities_changed"
)

// ServerEvent is a lifecycle event for one server.
type ServerEvent struct {
	Type         EventType      `json:"type"`
	ServerName   string         `json:"server_name"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Message      string         `json:"message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// EventRecorder keeps server events beyond the log, e.g. in a history
// database. Record is called synchronously and must not block for long.
type EventRecorder interface {
	Record(event ServerEvent)
}

// EventEmitter emits server events as structured log records and hands
// them to an optional recorder.
type EventEmitter struct {
	logger   *slog.Logger
	recorder EventRecorder
}

// NewEventEmitter creates a new event emitter. recorder may be nil.
func NewEventEmitter(logger *slog.Logger, recorder EventRecorder) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger, recorder: recorder}
}

// Emit logs an event and records it.
func (e *EventEmitter) Emit(event ServerEvent) {
	if e.recorder != nil {
		e.recorder.Record(event)
	}

	attrs := []any{
		"server", event.ServerName,
		"type", string(event.Type),
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, "connection_id", event.ConnectionID)
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	if event.Type == EventDisconnected {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "MCP server event", attrs...)
}

func (e *EventEmitter) emit(t EventType, conn *Connection, message string, details map[string]any) {
	e.Emit(ServerEvent{
		Type:         t,
		ServerName:   conn.Name(),
		ConnectionID: conn.ID(),
		Timestamp:    time.Now(),
		Message:      message,
		Details:      details,
	})
}

// EmitConnecting emits a connection attempt event.
func (e *EventEmitter) EmitConnecting(conn *Connection) {
	e.emit(EventConnecting, conn, "Connecting to server", map[string]any{
		"command": conn.Config().Command,
	})
}

// EmitConnected emits a handshake completed event.
func (e *EventEmitter) EmitConnected(conn *Connection, elapsed time.Duration) {
	e.emit(EventConnected, conn, "Server connected", map[string]any{
		"elapsed": elapsed.String(),
	})
}

// EmitDisconnected emits a disconnect event with the reason.
func (e *EventEmitter) EmitDisconnected(conn *Connection, reason string) {
	e.emit(EventDisconnected, conn, "Server disconnected", map[string]any{
		"reason": reason,
	})
}

// EmitRemoved emits a connection removed event.
func (e *EventEmitter) EmitRemoved(conn *Connection) {
	e.emit(EventRemoved, conn, "Connection closed", nil)
}

// EmitRestarting emits a restart event with its trigger.
func (e *EventEmitter) EmitRestarting(conn *Connection, trigger string) {
	e.emit(EventRestarting, conn, "Server restarting", map[string]any{
		"trigger": trigger,
	})
}

// EmitCapabilitiesChanged emits a capability refresh event.
func (e *EventEmitter) EmitCapabilitiesChanged(conn *Connection, tools, resources, templates int) {
	e.emit(EventCapabilitiesChanged, conn, "Capabilities refreshed", map[string]any{
		"tool_count":     tools,
		"resource_count": resources,
		"template_count": templates,
	})
}

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
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/mcphub/internal/log"
)

// maxErrorText bounds the error text kept on a connection; the tail is kept.
const maxErrorText = 16 * 1024

// Connection is one attempt to run and talk to a server. Its status only
// moves forward: connecting to connected or disconnected, and connected to
// disconnected. Recovery always creates a new Connection.
type Connection struct {
	id     string
	name   string
	raw    json.RawMessage
	config ServerConfig

	// configErr is set when the server entry failed validation; such a
	// connection never launches a process.
	configErr error

	mu         sync.Mutex
	status     ConnectionStatus
	errText    string
	restarting bool
	closed     bool
	tools      []Tool
	resources  []Resource
	templates  []ResourceTemplate
	transport  Transport
}

// newConnection creates a connection in connecting status, or in
// disconnected status carrying the validation error for an invalid entry.
func newConnection(entry ServerEntry) *Connection {
	c := &Connection{
		id:        uuid.NewString(),
		name:      entry.Name,
		raw:       entry.Raw,
		config:    entry.Config,
		configErr: entry.Err,
		status:    StatusConnecting,
	}
	if entry.Err != nil {
		c.status = StatusDisconnected
		c.errText = errorText(entry.Err)
	}
	return c
}

// ID returns the unique instance ID.
func (c *Connection) ID() string { return c.id }

// Name returns the server name.
func (c *Connection) Name() string { return c.name }

// Raw returns the config snapshot the connection was created from.
func (c *Connection) Raw() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// Config returns the parsed config.
func (c *Connection) Config() ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Entry returns the stored config as a ServerEntry, for recreating the connection.
func (c *Connection) Entry() ServerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ServerEntry{Name: c.name, Raw: c.raw, Config: c.config, Err: c.configErr}
}

// Status returns the current status.
func (c *Connection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Disabled reports whether the server is disabled.
func (c *Connection) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Disabled
}

// Info returns a snapshot for the UI.
func (c *Connection) Info() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ServerInfo{
		Name:              c.name,
		Config:            compactJSON(c.raw),
		Status:            c.status,
		Error:             c.errText,
		Disabled:          c.config.Disabled,
		Timeout:           int(c.config.TimeoutDuration() / time.Second),
		Tools:             c.tools,
		Resources:         c.resources,
		ResourceTemplates: c.templates,
	}
	if c.restarting {
		info.Status = StatusConnecting
		info.Error = ""
	}
	return info
}

// advance moves the status forward. It reports whether the status changed.
func (c *Connection) advance(to ConnectionStatus) (from ConnectionStatus, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from = c.status
	if c.closed || from == to || from == StatusDisconnected {
		return from, false
	}
	if to == StatusConnected && from != StatusConnecting {
		return from, false
	}
	c.status = to
	if to == StatusConnected {
		// Startup chatter on stderr is not an error once the handshake succeeds.
		c.errText = ""
	}
	return from, true
}

// appendError adds text to the error field. It returns the status at the
// time of the append and whether the text was recorded.
func (c *Connection) appendError(text string) (ConnectionStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || text == "" {
		return c.status, false
	}
	if c.errText == "" {
		c.errText = text
	} else {
		c.errText += "\n" + text
	}
	if len(c.errText) > maxErrorText {
		c.errText = c.errText[len(c.errText)-maxErrorText:]
		if i := strings.IndexByte(c.errText, '\n'); i >= 0 {
			c.errText = c.errText[i+1:]
		}
	}
	return c.status, true
}

// fail records err and moves the connection to disconnected.
func (c *Connection) fail(err error) bool {
	c.appendError(errorText(err))
	_, changed := c.advance(StatusDisconnected)
	return changed
}

// liveTransport returns the transport of a connected, open connection.
func (c *Connection) liveTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != StatusConnected || c.restarting {
		return nil
	}
	return c.transport
}

func (c *Connection) setTransport(t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.transport = t
	return true
}

// updateConfig replaces the config snapshot in place after the hub itself
// rewrote this server's entry, so the next reconciliation sees no change.
func (c *Connection) updateConfig(raw json.RawMessage, config ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = raw
	c.config = config
}

func (c *Connection) setCapabilities(tools []Tool, resources []Resource, templates []ResourceTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.resources = resources
	c.templates = templates
}

func (c *Connection) setTools(tools []Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

func (c *Connection) markRestarting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarting = true
}

// close stops the transport. It is safe to call more than once.
func (c *Connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}

// connector launches connections and wires their transport events.
type connector struct {
	factory    TransportFactory
	clientInfo ClientInfo

	// lifetime bounds server processes; attempts bounds handshakes and
	// capability fetches and is cancelled first on dispose.
	lifetime context.Context
	attempts context.Context

	connectTimeout time.Duration
	caps           *capabilityCache
	logs           *LogCapture
	events         *EventEmitter
	logger         *slog.Logger

	// notify pushes the server list to the UI.
	notify func()
}

// open starts the transport, performs the handshake and fetches
// capabilities. Failures are recorded on conn and returned.
func (c *connector) open(conn *Connection) error {
	if conn.configErr != nil {
		c.events.EmitDisconnected(conn, errorText(conn.configErr))
		return conn.configErr
	}

	cfg := conn.Config()
	t := c.factory(conn.name, cfg)
	if !conn.setTransport(t) {
		return ErrConnectionClosed(conn.name)
	}

	start := time.Now()
	c.events.EmitConnecting(conn)
	c.logger.Debug("launching MCP server",
		slog.String(log.ServerKey, conn.name),
		slog.String("command", cfg.Command),
		slog.Any("args", cfg.Args),
		log.Env(cfg.Env))
	if err := t.Start(c.lifetime, c.handlers(conn)); err != nil {
		err = WrapError(err, ErrorCodeLaunch, "Failed to start MCP server '"+conn.name+"'")
		if conn.fail(err) {
			c.events.EmitDisconnected(conn, errorText(err))
		}
		return err
	}

	ctx, cancel := context.WithTimeout(c.attempts, c.connectTimeout)
	defer cancel()
	if err := t.Connect(ctx, c.clientInfo); err != nil {
		if conn.fail(err) {
			c.events.EmitDisconnected(conn, errorText(err))
		}
		return err
	}

	if _, changed := conn.advance(StatusConnected); !changed {
		return ErrConnectionClosed(conn.name)
	}
	c.events.EmitConnected(conn, time.Since(start))

	c.caps.refresh(c.attempts, conn)
	return nil
}

// handlers binds transport events to one connection instance, so events
// from a superseded transport never touch its replacement.
func (c *connector) handlers(conn *Connection) TransportHandlers {
	logger := c.logger.With(log.ServerKey, conn.name, log.ConnectionIDKey, conn.id)
	return TransportHandlers{
		OnStderr: func(line string) {
			c.logs.Add(conn.name, conn.id, line)
			logger.Debug("server stderr", "line", line)
			if status, ok := conn.appendError(line); ok && status == StatusDisconnected {
				c.notify()
			}
		},
		OnError: func(err error) {
			recordTransportEvent(conn.name, "error")
			logger.Warn("transport error", "error", err)
			if _, ok := conn.appendError(errorText(err)); !ok {
				return
			}
			if _, changed := conn.advance(StatusDisconnected); changed {
				c.events.EmitDisconnected(conn, errorText(err))
			}
			c.notify()
		},
		OnClose: func() {
			recordTransportEvent(conn.name, "close")
			from, changed := conn.advance(StatusDisconnected)
			if !changed {
				return
			}
			if from == StatusConnected {
				conn.appendError(ErrConnectionClosed(conn.name).UserMessage())
			}
			c.events.EmitDisconnected(conn, "transport closed")
			c.notify()
		},
	}
}

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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRequestTimeout bounds requests other than tool calls.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultRestartDelay is how long a restarting server is shown as connecting
	// before it is torn down.
	DefaultRestartDelay = 500 * time.Millisecond

	tracerName = "github.com/tombee/mcphub/internal/mcp"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Store reads and writes the settings document (required)
	Store SettingsStore

	// Sink receives server list updates and user messages (defaults to NopSink)
	Sink NotifySink

	// Logger is used for structured logging (defaults to slog.Default)
	Logger *slog.Logger

	// TransportFactory creates a transport per connection (defaults to StdioTransportFactory)
	TransportFactory TransportFactory

	// ClientInfo is sent to servers during the handshake
	ClientInfo ClientInfo

	// ConnectTimeout bounds the handshake (defaults to DefaultRequestTimeout)
	ConnectTimeout time.Duration

	// RequestTimeout bounds resource reads and capability listing
	// (defaults to DefaultRequestTimeout)
	RequestTimeout time.Duration

	// RestartDelay is the pause before a restart tears the server down
	// (defaults to DefaultRestartDelay)
	RestartDelay time.Duration

	// Watch enables the settings file and build artifact watchers
	Watch bool

	// ArtifactPatterns select the args that are build artifacts
	// (defaults to DefaultArtifactPatterns)
	ArtifactPatterns []string

	// DebounceDelay coalesces bursts of file events (defaults to 200ms)
	DebounceDelay time.Duration

	// ArtifactRestartInterval is the minimum time between artifact-triggered
	// restarts of one server (defaults to 2s)
	ArtifactRestartInterval time.Duration

	// LogLines is the number of stderr lines kept per server (defaults to 1000)
	LogLines int

	// Events receives every lifecycle event (optional)
	Events EventRecorder
}

// Hub owns the connections to every configured MCP server and keeps them in
// line with the settings document.
type Hub struct {
	store          SettingsStore
	logger         *slog.Logger
	tracer         trace.Tracer
	registry       *Registry
	reconciler     *Reconciler
	connector      *connector
	caps           *capabilityCache
	logs           *LogCapture
	events         *EventEmitter
	artifacts      *ArtifactWatcher
	requestTimeout time.Duration
	restartDelay   time.Duration
	watch          bool
	debounceDelay  time.Duration

	// lifetime bounds server processes; attempts bounds handshakes.
	lifetime       context.Context
	cancelLifetime context.CancelFunc
	attempts       context.Context
	cancelAttempts context.CancelFunc

	sinkMu sync.RWMutex
	sink   NotifySink

	// order is the settings document's server key order as last read.
	orderMu sync.Mutex
	order   []string

	mu              sync.Mutex
	settingsWatcher *SettingsWatcher

	started     atomic.Bool
	disposed    atomic.Bool
	disposeOnce sync.Once
}

// NewHub creates a hub. No server is started until Start is called.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("settings store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	factory := cfg.TransportFactory
	if factory == nil {
		factory = StdioTransportFactory
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = DefaultRequestTimeout
	}
	restartDelay := cfg.RestartDelay
	if restartDelay == 0 {
		restartDelay = DefaultRestartDelay
	}
	clientInfo := cfg.ClientInfo
	if clientInfo.Name == "" {
		clientInfo = ClientInfo{Name: "mcphub", Version: "dev"}
	}

	h := &Hub{
		store:          cfg.Store,
		logger:         logger.With("component", "hub"),
		tracer:         otel.Tracer(tracerName),
		registry:       NewRegistry(),
		logs:           NewLogCapture(cfg.LogLines),
		events:         NewEventEmitter(logger, cfg.Events),
		requestTimeout: requestTimeout,
		restartDelay:   restartDelay,
		watch:          cfg.Watch,
		debounceDelay:  cfg.DebounceDelay,
		sink:           sink,
	}
	h.lifetime, h.cancelLifetime = context.WithCancel(context.Background())
	h.attempts, h.cancelAttempts = context.WithCancel(h.lifetime)

	h.caps = &capabilityCache{
		store:   cfg.Store,
		timeout: requestTimeout,
		events:  h.events,
		logger:  h.logger,
	}
	h.connector = &connector{
		factory:        factory,
		clientInfo:     clientInfo,
		lifetime:       h.lifetime,
		attempts:       h.attempts,
		connectTimeout: connectTimeout,
		caps:           h.caps,
		logs:           h.logs,
		events:         h.events,
		logger:         h.logger,
		notify:         h.notify,
	}

	if cfg.Watch {
		artifacts, err := NewArtifactWatcher(ArtifactWatcherConfig{
			Restart: func(ctx context.Context, name string) error {
				return h.restart(ctx, name, "artifact")
			},
			Logger:             logger,
			DebounceDelay:      cfg.DebounceDelay,
			MinRestartInterval: cfg.ArtifactRestartInterval,
			Patterns:           cfg.ArtifactPatterns,
		})
		if err != nil {
			h.cancelLifetime()
			return nil, err
		}
		h.artifacts = artifacts
	}

	h.reconciler = newReconciler(h.registry, h.connector, h.artifacts, h.logs, h.events, h.logger)
	return h, nil
}

// Start reads the settings document, connects every configured server and,
// when watching is enabled, starts the settings watcher. An invalid settings
// document is reported to the sink and returned; the watcher still starts
// so that fixing the file recovers.
func (h *Hub) Start(ctx context.Context) error {
	if h.disposed.Load() {
		return errHubDisposed()
	}
	if !h.started.CompareAndSwap(false, true) {
		return NewMCPError(ErrorCodeInternalError, "MCP hub already started")
	}

	err := h.reload(ctx, "startup")

	if h.watch {
		watcher, werr := NewSettingsWatcher(SettingsWatcherConfig{
			Path:          h.store.Path(),
			OnChange:      h.onSettingsChanged,
			Logger:        h.logger,
			DebounceDelay: h.debounceDelay,
		})
		if werr != nil {
			h.logger.Warn("settings watcher not started", "error", werr)
		} else {
			h.mu.Lock()
			h.settingsWatcher = watcher
			h.mu.Unlock()
		}
	}
	return err
}

// Reload re-reads the settings document and reconciles against it. An invalid
// document leaves every connection untouched.
func (h *Hub) Reload(ctx context.Context) error {
	return h.reload(ctx, "reload")
}

func (h *Hub) onSettingsChanged(ctx context.Context) {
	if err := h.reload(ctx, "settings"); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("settings change not applied", "error", errorText(err))
	}
}

func (h *Hub) reload(ctx context.Context, trigger string) error {
	settings, err := h.store.Load()
	if err != nil {
		h.showError(errorText(err))
		recordReconcile(trigger, err, 0)
		return err
	}
	h.rememberOrder(settings)
	return h.reconcile(ctx, settings.Desired(), trigger)
}

// reconcile runs one traced reconciliation pass and notifies the sink.
func (h *Hub) reconcile(ctx context.Context, desired DesiredState, trigger string) error {
	ctx, span := h.tracer.Start(ctx, "mcphub.reconcile",
		trace.WithAttributes(
			attribute.String("mcp.trigger", trigger),
			attribute.Int("mcp.servers", len(desired)),
		),
	)
	defer span.End()

	unlock, err := h.lock(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	start := time.Now()
	h.reconciler.reconcileLocked(desired)
	elapsed := time.Since(start)
	unlock()

	recordReconcile(trigger, nil, elapsed)
	h.logger.Debug("reconciled", "trigger", trigger, "servers", len(desired), "elapsed", elapsed)
	h.notify()
	return nil
}

// lock acquires the reconcile guard unless the hub has been disposed.
func (h *Hub) lock(ctx context.Context) (func(), error) {
	if h.disposed.Load() {
		return nil, errHubDisposed()
	}
	unlock, err := h.reconciler.lock(ctx)
	if err != nil {
		return nil, err
	}
	if h.disposed.Load() {
		unlock()
		return nil, errHubDisposed()
	}
	return unlock, nil
}

// ListEnabledServers returns every server that is not disabled.
func (h *Hub) ListEnabledServers() []ServerInfo {
	return h.snapshot(h.registry.Enabled())
}

// ListAllServers returns every server, including disabled ones.
func (h *Hub) ListAllServers() []ServerInfo {
	return h.snapshot(h.registry.All())
}

// GetServer returns one server.
func (h *Hub) GetServer(name string) (ServerInfo, error) {
	conn := h.registry.Get(name)
	if conn == nil {
		return ServerInfo{}, ErrServerNotFound(name)
	}
	return conn.Info(), nil
}

// snapshot orders connections by the settings document, with names the
// document does not know appended in registry order.
func (h *Hub) snapshot(conns []*Connection) []ServerInfo {
	h.orderMu.Lock()
	index := make(map[string]int, len(h.order))
	for i, name := range h.order {
		index[name] = i
	}
	h.orderMu.Unlock()

	known := make([]*Connection, len(index))
	var unknown []*Connection
	for _, conn := range conns {
		if i, ok := index[conn.Name()]; ok {
			known[i] = conn
		} else {
			unknown = append(unknown, conn)
		}
	}

	servers := make([]ServerInfo, 0, len(conns))
	for _, conn := range append(known, unknown...) {
		if conn != nil {
			servers = append(servers, conn.Info())
		}
	}
	return servers
}

func (h *Hub) rememberOrder(settings *Settings) {
	names := settings.Names()
	h.orderMu.Lock()
	h.order = names
	h.orderMu.Unlock()
}

// CallTool invokes a tool with the server's configured timeout.
func (h *Hub) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*ToolCallResponse, error) {
	ctx, span := h.tracer.Start(ctx, "mcphub.call_tool",
		trace.WithAttributes(
			attribute.String("mcp.server", serverName),
			attribute.String("mcp.tool", toolName),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := h.callTool(ctx, serverName, toolName, args)
	recordToolCall(serverName, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorText(err))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("mcp.is_error", resp.IsError))
	return resp, nil
}

func (h *Hub) callTool(ctx context.Context, serverName, toolName string, args map[string]any) (*ToolCallResponse, error) {
	t, conn, err := h.transportFor(serverName)
	if err != nil {
		return nil, err
	}

	timeout := conn.Config().TimeoutDuration()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	resp, err := t.CallTool(ctx, toolName, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout(serverName, "tools/call", timeout)
		}
		return nil, err
	}
	return resp, nil
}

// ReadResource reads a resource with the default request timeout.
func (h *Hub) ReadResource(ctx context.Context, serverName, uri string) (*ResourceReadResponse, error) {
	ctx, span := h.tracer.Start(ctx, "mcphub.read_resource",
		trace.WithAttributes(
			attribute.String("mcp.server", serverName),
			attribute.String("mcp.uri", uri),
		),
	)
	defer span.End()

	resp, err := h.readResource(ctx, serverName, uri)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorText(err))
		return nil, err
	}
	return resp, nil
}

func (h *Hub) readResource(ctx context.Context, serverName, uri string) (*ResourceReadResponse, error) {
	t, _, err := h.transportFor(serverName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	resp, err := t.ReadResource(ctx, uri)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout(serverName, "resources/read", h.requestTimeout)
		}
		return nil, err
	}
	return resp, nil
}

// transportFor checks that a server exists, is enabled and is connected.
// It performs no I/O.
func (h *Hub) transportFor(serverName string) (Transport, *Connection, error) {
	conn := h.registry.Get(serverName)
	if conn == nil {
		return nil, nil, ErrServerNotFound(serverName)
	}
	if conn.Disabled() {
		return nil, nil, ErrServerDisabled(serverName)
	}
	t := conn.liveTransport()
	if t == nil {
		return nil, nil, ErrServerNotConnected(serverName)
	}
	return t, conn, nil
}

// ToggleDisabled enables or disables a server in the settings document.
// A disabled server stays connected but rejects calls.
func (h *Hub) ToggleDisabled(ctx context.Context, serverName string, disabled bool) error {
	err := h.updateServer(ctx, serverName, "disabled", disabled, func(conn *Connection, before ServerConfig) {
		if before.Disabled && !disabled && conn.Status() == StatusConnected {
			h.caps.refresh(ctx, conn)
		}
	})
	if err != nil {
		h.showError("Failed to update server state: " + errorText(err))
	}
	return err
}

// UpdateTimeout sets a server's tool call timeout. The value is clamped
// before it is written.
func (h *Hub) UpdateTimeout(ctx context.Context, serverName string, seconds float64) error {
	err := h.updateServer(ctx, serverName, "timeout", ClampTimeout(seconds), nil)
	if err != nil {
		h.showError("Failed to update server timeout: " + errorText(err))
	}
	return err
}

// ToggleToolAlwaysAllow adds a tool to or removes it from a server's
// alwaysAllow list.
func (h *Hub) ToggleToolAlwaysAllow(ctx context.Context, serverName, toolName string, allow bool) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}

	err = func() error {
		settings, err := h.store.Load()
		if err != nil {
			return err
		}
		if _, ok := settings.Server(serverName); !ok {
			return ErrServerNotFound(serverName)
		}

		list := settings.AllowList(serverName)
		updated := make([]string, 0, len(list)+1)
		found := false
		for _, name := range list {
			if name == toolName {
				found = true
				if !allow {
					continue
				}
			}
			updated = append(updated, name)
		}
		if allow && !found {
			updated = append(updated, toolName)
		}

		return h.writeServerFieldLocked(settings, serverName, "alwaysAllow", updated, func(conn *Connection, _ ServerConfig) {
			h.caps.refreshTools(ctx, conn)
		})
	}()
	unlock()

	if err != nil {
		h.showError("Failed to update always allow settings: " + errorText(err))
		return err
	}
	h.notify()
	return nil
}

// updateServer sets one field of a server entry under the guard and notifies.
func (h *Hub) updateServer(ctx context.Context, serverName, field string, value any, after func(*Connection, ServerConfig)) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}

	err = func() error {
		settings, err := h.store.Load()
		if err != nil {
			return err
		}
		return h.writeServerFieldLocked(settings, serverName, field, value, after)
	}()
	unlock()

	if err != nil {
		return err
	}
	h.notify()
	return nil
}

// writeServerFieldLocked writes one field, updates the live connection's
// snapshot in place and reconciles against the written document. The
// caller holds the guard.
func (h *Hub) writeServerFieldLocked(settings *Settings, serverName, field string, value any, after func(*Connection, ServerConfig)) error {
	prev, _ := settings.Server(serverName)
	raw, err := settings.SetServerField(serverName, field, value)
	if err != nil {
		return err
	}
	if err := h.store.Save(settings); err != nil {
		return err
	}
	h.rememberOrder(settings)

	// An entry edited on disk since the last reconcile no longer matches what
	// the connection runs; leave its snapshot alone so reconcile recreates it.
	cfg, cfgErr := ParseServerConfig(serverName, raw)
	if conn := h.registry.Get(serverName); conn != nil && cfgErr == nil && conn.configErr == nil && configEqual(conn.Raw(), prev) {
		before := conn.Config()
		conn.updateConfig(raw, cfg)
		if after != nil {
			after(conn, before)
		}
	}

	h.reconciler.reconcileLocked(settings.Desired())
	return nil
}

// DeleteServer removes a server from the settings document and closes its
// connection.
func (h *Hub) DeleteServer(ctx context.Context, serverName string) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}

	err = func() error {
		settings, err := h.store.Load()
		if err != nil {
			return err
		}
		if !settings.DeleteServer(serverName) {
			return ErrServerNotFound(serverName)
		}
		if err := h.store.Save(settings); err != nil {
			return err
		}
		h.rememberOrder(settings)

		h.reconciler.remove(serverName)
		h.logs.Remove(serverName)
		h.reconciler.reconcileLocked(settings.Desired())
		return nil
	}()
	unlock()

	if err != nil {
		h.showError("Failed to delete MCP server: " + errorText(err))
		return err
	}
	h.notify()
	h.showInfo("Deleted MCP server: " + serverName)
	return nil
}

// RestartServer closes a server and reconnects it with the config it is
// currently running, without re-reading the settings document.
func (h *Hub) RestartServer(ctx context.Context, serverName string) error {
	return h.restart(ctx, serverName, "manual")
}

func (h *Hub) restart(ctx context.Context, serverName, trigger string) error {
	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn := h.registry.Get(serverName)
	if conn == nil {
		return ErrServerNotFound(serverName)
	}
	entry := conn.Entry()

	h.showInfo(fmt.Sprintf("Restarting %s MCP server...", serverName))
	conn.markRestarting()
	h.events.EmitRestarting(conn, trigger)
	h.notify()

	timer := time.NewTimer(h.restartDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	case <-h.attempts.Done():
		timer.Stop()
	}
	if h.attempts.Err() != nil {
		return errHubDisposed()
	}

	h.reconciler.remove(serverName)
	_, err = h.reconciler.connect(entry)
	h.notify()

	if err != nil {
		h.logger.Warn("failed to restart MCP server", "server", serverName, "error", errorText(err))
		h.showError(fmt.Sprintf("Failed to connect to %s MCP server", serverName))
		return err
	}
	h.showInfo(fmt.Sprintf("%s MCP server connected", serverName))
	return nil
}

// ServerLogs returns the last n stderr lines of a server, oldest first.
// n <= 0 returns every retained line.
func (h *Hub) ServerLogs(serverName string, n int) ([]LogEntry, error) {
	if h.registry.Get(serverName) == nil {
		return nil, ErrServerNotFound(serverName)
	}
	return h.logs.Tail(serverName, n), nil
}

// Dispose stops the watchers, closes every connection and releases the sink.
// It is safe to call more than once.
func (h *Hub) Dispose(ctx context.Context) error {
	var err error
	h.disposeOnce.Do(func() {
		err = h.dispose(ctx)
	})
	return err
}

func (h *Hub) dispose(ctx context.Context) error {
	h.disposed.Store(true)
	h.cancelAttempts()

	h.mu.Lock()
	settingsWatcher := h.settingsWatcher
	h.settingsWatcher = nil
	h.mu.Unlock()

	var errs []error
	if settingsWatcher != nil {
		if err := settingsWatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("settings watcher: %w", err))
		}
	}
	if h.artifacts != nil {
		if err := h.artifacts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("artifact watcher: %w", err))
		}
	}

	// A pass still holding the guard past ctx is abandoned; its connections
	// are closed below regardless.
	if unlock, err := h.reconciler.lock(ctx); err == nil {
		defer unlock()
	} else {
		h.logger.Warn("disposing while a reconciliation is in flight", "error", err)
	}

	var g errgroup.Group
	for _, conn := range h.registry.Clear() {
		g.Go(func() error {
			if err := conn.close(); err != nil {
				h.logger.Warn("error closing MCP server", "server", conn.Name(), "error", err)
			}
			h.events.EmitRemoved(conn)
			return nil
		})
	}
	_ = g.Wait()

	h.cancelLifetime()
	recordConnections(nil)

	h.sinkMu.Lock()
	h.sink = NopSink{}
	h.sinkMu.Unlock()

	h.logger.Debug("hub disposed")
	return errors.Join(errs...)
}

// notify pushes the full server list to the sink. It must not be called
// with a registry or connection lock held.
func (h *Hub) notify() {
	servers := h.ListAllServers()
	recordConnections(servers)
	h.currentSink().ServersChanged(servers)
}

func (h *Hub) showInfo(message string) {
	h.currentSink().ShowInfo(message)
}

func (h *Hub) showError(message string) {
	h.currentSink().ShowError(message)
}

func (h *Hub) currentSink() NotifySink {
	h.sinkMu.RLock()
	defer h.sinkMu.RUnlock()
	return h.sink
}

func errHubDisposed() *MCPError {
	return NewMCPError(ErrorCodeInternalError, "MCP hub has been disposed")
}

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

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tombee/mcphub/internal/mcp"
)

// MockServer describes how transports created for one server name behave.
type MockServer struct {
	Tools             []mcp.Tool
	Resources         []mcp.Resource
	ResourceTemplates []mcp.ResourceTemplate

	// Stderr lines are delivered during Start, before Start returns.
	Stderr []string

	// StartError fails Start, as a missing binary would.
	StartError error

	// ConnectError fails the handshake.
	ConnectError error

	// ExitBeforeHandshake delivers Stderr, then closes the transport and
	// fails the handshake, as a process that crashes on startup would.
	ExitBeforeHandshake bool

	// ConnectDelay holds the handshake until it elapses or ctx is done.
	ConnectDelay time.Duration

	// CallHandler answers tool calls. The default echoes the tool name.
	CallHandler func(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResponse, error)

	// ReadHandler answers resource reads. The default returns the URI as text.
	ReadHandler func(ctx context.Context, uri string) (*mcp.ResourceReadResponse, error)
}

// MockFactory creates MockTransports and remembers every one it created.
type MockFactory struct {
	mu         sync.Mutex
	servers    map[string]MockServer
	transports map[string][]*MockTransport
}

// NewMockFactory creates a factory whose servers connect with no capabilities
// unless configured with SetServer.
func NewMockFactory() *MockFactory {
	return &MockFactory{
		servers:    make(map[string]MockServer),
		transports: make(map[string][]*MockTransport),
	}
}

// SetServer configures the behavior of transports created for name from now on.
func (f *MockFactory) SetServer(name string, server MockServer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[name] = server
}

// Factory is an mcp.TransportFactory.
func (f *MockFactory) Factory(name string, config mcp.ServerConfig) mcp.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &MockTransport{
		name:   name,
		config: config,
		server: f.servers[name],
	}
	f.transports[name] = append(f.transports[name], t)
	return t
}

// Transports returns every transport created for name, oldest first.
func (f *MockFactory) Transports(name string) []*MockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockTransport(nil), f.transports[name]...)
}

// Latest returns the most recent transport created for name, or nil.
func (f *MockFactory) Latest(name string) *MockTransport {
	all := f.Transports(name)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Created returns how many transports were created for name.
func (f *MockFactory) Created(name string) int {
	return len(f.Transports(name))
}

// Open returns how many transports for name have not been closed.
func (f *MockFactory) Open(name string) int {
	n := 0
	for _, t := range f.Transports(name) {
		if !t.Closed() {
			n++
		}
	}
	return n
}

// MockCall records one tool call.
type MockCall struct {
	Tool     string
	Args     map[string]any
	Deadline time.Time
}

// MockTransport implements mcp.Transport in memory.
type MockTransport struct {
	name   string
	config mcp.ServerConfig
	server MockServer

	mu       sync.Mutex
	handlers mcp.TransportHandlers
	started  bool
	closed   bool
	requests int
	calls    []MockCall
}

// Config returns the config the transport was created with.
func (t *MockTransport) Config() mcp.ServerConfig {
	return t.config
}

// Start records the handlers and delivers the configured stderr lines.
func (t *MockTransport) Start(ctx context.Context, handlers mcp.TransportHandlers) error {
	t.mu.Lock()
	t.handlers = handlers
	t.started = true
	t.mu.Unlock()

	if t.server.StartError != nil {
		return t.server.StartError
	}
	for _, line := range t.server.Stderr {
		t.EmitStderr(line)
	}
	return nil
}

// Connect performs the simulated handshake.
func (t *MockTransport) Connect(ctx context.Context, info mcp.ClientInfo) error {
	if t.server.ExitBeforeHandshake {
		t.Disconnect()
		return fmt.Errorf("process exited before initialize completed")
	}
	if t.server.ConnectDelay > 0 {
		select {
		case <-time.After(t.server.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := t.request(); err != nil {
		return err
	}
	return t.server.ConnectError
}

func (t *MockTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if err := t.request(); err != nil {
		return nil, err
	}
	return append([]mcp.Tool(nil), t.server.Tools...), nil
}

func (t *MockTransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if err := t.request(); err != nil {
		return nil, err
	}
	return append([]mcp.Resource(nil), t.server.Resources...), nil
}

func (t *MockTransport) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	if err := t.request(); err != nil {
		return nil, err
	}
	return append([]mcp.ResourceTemplate(nil), t.server.ResourceTemplates...), nil
}

func (t *MockTransport) ReadResource(ctx context.Context, uri string) (*mcp.ResourceReadResponse, error) {
	if err := t.request(); err != nil {
		return nil, err
	}
	if t.server.ReadHandler != nil {
		return t.server.ReadHandler(ctx, uri)
	}
	return &mcp.ResourceReadResponse{
		Contents: []mcp.ResourceContent{{URI: uri, MimeType: "text/plain", Text: uri}},
	}, nil
}

// CallTool records the call, including its deadline, and runs the handler.
func (t *MockTransport) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResponse, error) {
	if err := t.request(); err != nil {
		return nil, err
	}

	call := MockCall{Tool: name, Args: args}
	if deadline, ok := ctx.Deadline(); ok {
		call.Deadline = deadline
	}
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()

	if t.server.CallHandler != nil {
		return t.server.CallHandler(ctx, name, args)
	}
	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{{Type: "text", Text: fmt.Sprintf("Mock response for %s", name)}},
	}, nil
}

func (t *MockTransport) request() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mcp.ErrConnectionClosed(t.name)
	}
	t.requests++
	return nil
}

// Close marks the transport closed. Like a real transport closed by its
// owner, it does not fire OnClose.
func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// EmitStderr delivers one stderr line.
func (t *MockTransport) EmitStderr(line string) {
	if h := t.currentHandlers(); h.OnStderr != nil {
		h.OnStderr(line)
	}
}

// Fail delivers an asynchronous transport error.
func (t *MockTransport) Fail(err error) {
	if h := t.currentHandlers(); h.OnError != nil {
		h.OnError(err)
	}
}

// Disconnect closes the transport from the server side and fires OnClose.
func (t *MockTransport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	h := t.handlers
	t.mu.Unlock()
	if h.OnClose != nil {
		h.OnClose()
	}
}

func (t *MockTransport) currentHandlers() mcp.TransportHandlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers
}

// Started reports whether Start was called.
func (t *MockTransport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Closed reports whether the transport was closed.
func (t *MockTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Requests returns how many protocol requests reached the transport.
func (t *MockTransport) Requests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests
}

// Calls returns the recorded tool calls.
func (t *MockTransport) Calls() []MockCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MockCall(nil), t.calls...)
}

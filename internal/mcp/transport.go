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
)

// TransportHandlers receives out-of-band events from a Transport.
// Handlers run on transport goroutines and must not block.
type TransportHandlers struct {
	// OnStderr is called once per line the server writes to its error stream.
	OnStderr func(line string)

	// OnError is called when the channel fails.
	OnError func(err error)

	// OnClose is called once when the channel closes for any reason other
	// than a call to Close.
	OnClose func()
}

// Transport is a duplex channel to one MCP server process.
//
// Start and Connect are separate steps: Start launches the process and
// begins consuming its error stream, Connect performs the protocol
// handshake. Output a server writes before or during a failed handshake is
// therefore always delivered to OnStderr.
type Transport interface {
	// Start launches the server process. ctx bounds the process lifetime.
	Start(ctx context.Context, handlers TransportHandlers) error

	// Connect performs the initialize handshake.
	Connect(ctx context.Context, info ClientInfo) error

	ListTools(ctx context.Context) ([]Tool, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error)
	ReadResource(ctx context.Context, uri string) (*ResourceReadResponse, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResponse, error)

	// Close stops the process. No handlers are invoked after Close returns.
	Close() error
}

// TransportFactory creates an unstarted Transport for a server.
type TransportFactory func(name string, config ServerConfig) Transport

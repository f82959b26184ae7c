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
	"encoding/json"
)

// ConnectionStatus is the lifecycle state of one Connection instance.
type ConnectionStatus string

const (
	// StatusConnecting means the process is launching or the handshake is in flight.
	StatusConnecting ConnectionStatus = "connecting"
	// StatusConnected means the handshake completed and requests are accepted.
	StatusConnected ConnectionStatus = "connected"
	// StatusDisconnected is terminal for a Connection instance.
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ServerInfo is an immutable snapshot of one server as shown to the UI.
type ServerInfo struct {
	// Name is the key of the server in the settings document
	Name string `json:"name"`

	// Config is the JSON config used to connect
	Config string `json:"config"`

	Status ConnectionStatus `json:"status"`

	// Error is the accumulated error text, including captured stderr
	Error string `json:"error,omitempty"`

	Disabled bool `json:"disabled,omitempty"`

	// Timeout is the effective tool call timeout in seconds
	Timeout int `json:"timeout"`

	Tools             []Tool             `json:"tools,omitempty"`
	Resources         []Resource         `json:"resources,omitempty"`
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates,omitempty"`
}

// Redacted returns a copy with sensitive env values masked, for output
// that leaves the process.
func (s ServerInfo) Redacted() ServerInfo {
	s.Config = RedactConfigJSON(s.Config)
	return s
}

// RedactServers returns redacted copies of servers.
func RedactServers(servers []ServerInfo) []ServerInfo {
	out := make([]ServerInfo, len(servers))
	for i, s := range servers {
		out[i] = s.Redacted()
	}
	return out
}

// Tool is a tool exposed by a connected server.
type Tool struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description,omitempty"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// AlwaysAllow is true when the tool is on the server's allow list
	AlwaysAllow bool `json:"alwaysAllow,omitempty"`
}

// Resource is a resource exposed by a connected server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate is a parameterized resource exposed by a connected server.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ToolCallResponse represents the result of an MCP tool execution.
type ToolCallResponse struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// StructuredContent is the optional structured result
	StructuredContent any `json:"structuredContent,omitempty"`

	// IsError indicates if the tool execution failed
	IsError bool `json:"isError,omitempty"`
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, audio, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image" and type="audio")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`

	// Resource is the embedded resource (for type="resource")
	Resource *ResourceContent `json:"resource,omitempty"`
}

// ResourceReadResponse represents the result of reading an MCP resource.
type ResourceReadResponse struct {
	// Contents contains the resource data
	Contents []ResourceContent `json:"contents"`
}

// ResourceContent represents the content of an MCP resource.
type ResourceContent struct {
	// URI is the resource identifier
	URI string `json:"uri"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`

	// Text is the text content (for text resources)
	Text string `json:"text,omitempty"`

	// Blob is the base64-encoded binary content (for binary resources)
	Blob string `json:"blob,omitempty"`
}

// ClientInfo identifies the hub to servers during the handshake.
type ClientInfo struct {
	Name    string
	Version string
}

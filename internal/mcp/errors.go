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
	"errors"
	"fmt"
	"strings"
	"time"
)

// MCPErrorCode represents a category of hub error.
type MCPErrorCode string

const (
	// ErrorCodeConfig indicates the settings document failed to parse or validate.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
	// ErrorCodeLaunch indicates a server process could not be started.
	ErrorCodeLaunch MCPErrorCode = "LAUNCH"
	// ErrorCodeProtocol indicates a handshake failure or malformed response.
	ErrorCodeProtocol MCPErrorCode = "PROTOCOL"
	// ErrorCodeTimeout indicates a request exceeded its deadline.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeTransport indicates the channel to the server failed or closed.
	ErrorCodeTransport MCPErrorCode = "TRANSPORT"
	// ErrorCodeDisabled indicates the server is disabled in settings.
	ErrorCodeDisabled MCPErrorCode = "DISABLED"
	// ErrorCodeNotFound indicates no connection exists for the server name.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeNotConnected indicates the server has no live transport.
	ErrorCodeNotConnected MCPErrorCode = "NOT_CONNECTED"
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError MCPErrorCode = "INTERNAL"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Detail != "" {
		sb.WriteString("  → ")
		sb.WriteString(e.Detail)
		sb.WriteString("\n")
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a single-line message without suggestions.
// This is the text recorded on a server's error field.
func (e *MCPError) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for when no connection exists for a server.
func ErrServerNotFound(name string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", name)).
		WithSuggestions(
			"Check the server name: mcphub list --all",
			"Add the server to the mcpServers section of the settings file",
		)
}

// ErrServerDisabled creates an error for a call against a disabled server.
func ErrServerDisabled(name string) *MCPError {
	return NewMCPError(ErrorCodeDisabled, fmt.Sprintf("Server \"%s\" is disabled", name)).
		WithSuggestions(fmt.Sprintf("Enable the server: mcphub enable %s", name))
}

// ErrServerNotConnected creates an error for a call against a server with no live transport.
func ErrServerNotConnected(name string) *MCPError {
	return NewMCPError(ErrorCodeNotConnected, fmt.Sprintf("MCP server '%s' is not connected", name)).
		WithSuggestions(
			"Check the server error: mcphub list --all",
			fmt.Sprintf("Restart the server: mcphub restart %s", name),
		)
}

// ErrInvalidSettings creates an error for a settings document that cannot be used.
func ErrInvalidSettings(path, detail string, cause error) *MCPError {
	return NewMCPError(ErrorCodeConfig, "Invalid MCP settings format").
		WithDetail(detail).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("Fix the JSON in %s", path),
			"The top level must be {\"mcpServers\": {\"<name>\": {\"command\": \"...\"}}}",
		)
}

// ErrInvalidServerConfig creates an error for a single server entry that fails validation.
func ErrInvalidServerConfig(name, detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, fmt.Sprintf("Invalid config for MCP server '%s'", name)).
		WithDetail(detail).
		WithSuggestions(
			"Ensure \"command\" is a non-empty string",
			"\"args\" and \"alwaysAllow\" must be string arrays, \"env\" a string map, \"timeout\" a number",
		)
}

// ErrLaunchFailed creates an error for when a server process fails to start.
func ErrLaunchFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeLaunch, fmt.Sprintf("Failed to start MCP server '%s'", name)).
		WithDetail(errorText(cause)).
		WithCause(cause).
		WithSuggestions(
			"Verify the command is installed and in your PATH",
			"Verify the command and arguments are correct",
		)
}

// ErrHandshakeFailed creates an error for a failed initialize exchange.
func ErrHandshakeFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeProtocol, fmt.Sprintf("MCP server '%s' failed to initialize", name)).
		WithDetail(errorText(cause)).
		WithCause(cause).
		WithSuggestions(
			"Verify the server implements the MCP protocol over stdio",
			"Check the server error output above for crash details",
		)
}

// ErrProtocol creates an error for a failed request.
func ErrProtocol(name, method string, cause error) *MCPError {
	return NewMCPError(ErrorCodeProtocol, fmt.Sprintf("MCP server '%s' request %s failed", name, method)).
		WithDetail(errorText(cause)).
		WithCause(cause)
}

// ErrTimeout creates an error for a request that exceeded its deadline.
func ErrTimeout(name, method string, timeout time.Duration) *MCPError {
	return NewMCPError(ErrorCodeTimeout, fmt.Sprintf("MCP server '%s' request %s timed out after %s", name, method, timeout)).
		WithCause(errRequestTimeout).
		WithSuggestions(
			"Check if the server is responding",
			fmt.Sprintf("Try increasing the timeout: mcphub timeout %s <seconds>", name),
		)
}

// ErrConnectionClosed creates an error for when a server connection is closed.
func ErrConnectionClosed(name string) *MCPError {
	return NewMCPError(ErrorCodeTransport, fmt.Sprintf("Connection to MCP server '%s' closed", name)).
		WithCause(errConnectionClosed).
		WithSuggestions(
			fmt.Sprintf("Restart the server: mcphub restart %s", name),
			"Check the server error output for crash details",
		)
}

// ErrTransport creates an error for an asynchronous channel failure.
func ErrTransport(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeTransport, fmt.Sprintf("Transport error on MCP server '%s'", name)).
		WithDetail(errorText(cause)).
		WithCause(cause)
}

var (
	errConnectionClosed = errors.New("connection closed")
	errRequestTimeout   = errors.New("request timed out")
)

// WrapError wraps a standard error in an MCPError if it isn't one already.
func WrapError(err error, code MCPErrorCode, message string) *MCPError {
	if mcpErr := GetMCPError(err); mcpErr != nil {
		return mcpErr
	}
	return NewMCPError(code, message).WithDetail(err.Error()).WithCause(err)
}

// IsMCPError checks if an error chain contains an MCPError.
func IsMCPError(err error) bool {
	return GetMCPError(err) != nil
}

// GetMCPError extracts an MCPError from an error chain.
func GetMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	return nil
}

// IsCode reports whether err carries an MCPError with the given code.
func IsCode(err error, code MCPErrorCode) bool {
	mcpErr := GetMCPError(err)
	return mcpErr != nil && mcpErr.Code == code
}

// errorText renders err the way it is recorded on a server's error field.
func errorText(err error) string {
	if mcpErr := GetMCPError(err); mcpErr != nil {
		return mcpErr.UserMessage()
	}
	return err.Error()
}

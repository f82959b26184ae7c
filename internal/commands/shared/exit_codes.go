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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/mcphub/internal/mcp"
)

const (
	ExitSuccess       = 0
	ExitFailed        = 1
	ExitInvalidConfig = 2
	ExitNotFound      = 3
	ExitUnavailable   = 4 // server disabled, not connected, timed out or broken
	ExitToolError     = 5 // the tool ran and reported an error
)

// ExitError carries a process exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError reports bad command-line input.
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewToolError reports a tool result flagged as an error.
func NewToolError(server, tool string) *ExitError {
	return &ExitError{Code: ExitToolError, Message: fmt.Sprintf("tool %s on %s reported an error", tool, server)}
}

// ExitCodeFor maps an error to an exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	mcpErr := mcp.GetMCPError(err)
	if mcpErr == nil {
		return ExitFailed
	}
	switch mcpErr.Code {
	case mcp.ErrorCodeConfig:
		return ExitInvalidConfig
	case mcp.ErrorCodeNotFound:
		return ExitNotFound
	case mcp.ErrorCodeDisabled, mcp.ErrorCodeNotConnected, mcp.ErrorCodeTimeout,
		mcp.ErrorCodeLaunch, mcp.ErrorCodeProtocol, mcp.ErrorCodeTransport:
		return ExitUnavailable
	default:
		return ExitFailed
	}
}

// PrintError writes err and any suggestions it carries to w.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}

	mcpErr := mcp.GetMCPError(err)
	if mcpErr == nil {
		fmt.Fprintln(w, RenderError(err.Error()))
		return
	}

	fmt.Fprintln(w, RenderError(mcpErr.UserMessage()))
	for _, s := range mcpErr.Suggestions {
		fmt.Fprintf(w, "  %s %s\n", Muted.Render(SymbolInfo), s)
	}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCodeFor(err))
}

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

// Package mcptest provides a small MCP server for exercising the stdio
// transport against a real child process.
//
// A test binary becomes the server when EnvServer is set:
//
//	func TestMain(m *testing.M) {
//	    if mcptest.IsServerProcess() {
//	        os.Exit(mcptest.Main())
//	    }
//	    os.Exit(m.Run())
//	}
package mcptest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// EnvServer turns the process into the fixture server when set to "1".
	EnvServer = "MCPHUB_TEST_SERVER"

	// EnvStderr holds lines, separated by "|", written to stderr at startup.
	EnvStderr = "MCPHUB_TEST_STDERR"

	// EnvExit makes the server exit with the given code right after writing
	// its startup stderr, before any handshake.
	EnvExit = "MCPHUB_TEST_EXIT"

	// EnvCloseStderr makes the server close stderr after its startup lines
	// and keep serving.
	EnvCloseStderr = "MCPHUB_TEST_CLOSE_STDERR"

	// envHold turns the process into a sleeper that keeps the inherited
	// stderr open for the given duration.
	envHold = "MCPHUB_TEST_HOLD"
)

// IsServerProcess reports whether this process was launched as the fixture server.
func IsServerProcess() bool {
	return os.Getenv(EnvServer) == "1"
}

// Env returns the settings env block that launches the fixture server.
func Env(stderr []string, exitCode int) map[string]string {
	env := map[string]string{EnvServer: "1"}
	if len(stderr) > 0 {
		env[EnvStderr] = strings.Join(stderr, "|")
	}
	if exitCode != 0 {
		env[EnvExit] = fmt.Sprint(exitCode)
	}
	return env
}

// Main runs the fixture server on stdio and returns the process exit code.
func Main() int {
	if hold := os.Getenv(envHold); hold != "" {
		d, _ := time.ParseDuration(hold)
		time.Sleep(d)
		return 0
	}
	if lines := os.Getenv(EnvStderr); lines != "" {
		for _, line := range strings.Split(lines, "|") {
			fmt.Fprintln(os.Stderr, line)
		}
	}
	if code := os.Getenv(EnvExit); code != "" {
		var n int
		fmt.Sscan(code, &n)
		return n
	}

	if os.Getenv(EnvCloseStderr) == "1" {
		os.Stderr.Close()
	}

	if err := server.ServeStdio(NewServer()); err != nil {
		fmt.Fprintf(os.Stderr, "fixture server error: %v\n", err)
		return 1
	}
	return 0
}

// NewServer builds the fixture server: tools echo, sleep, fail and exit, one
// resource and one resource template.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer("mcphub-fixture", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.Tool{
		Name:        "echo",
		Description: "Return the message argument as text.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Text to return",
				},
			},
			Required: []string{"message"},
		},
	}, handleEcho)

	s.AddTool(mcp.Tool{
		Name:        "sleep",
		Description: "Sleep for the given number of milliseconds.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ms": map[string]interface{}{
					"type":        "number",
					"description": "Milliseconds to sleep",
				},
			},
		},
	}, handleSleep)

	s.AddTool(mcp.Tool{
		Name:        "fail",
		Description: "Return a tool error.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handleFail)

	s.AddTool(mcp.Tool{
		Name:        "exit",
		Description: "Exit the process without replying. With orphan, a grandchild keeps stderr open.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"orphan": map[string]interface{}{
					"type":        "boolean",
					"description": "Leave a process holding stderr",
				},
			},
		},
	}, handleExit)

	s.AddResource(mcp.NewResource("fixture://readme", "readme",
		mcp.WithResourceDescription("Fixture readme"),
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello from the fixture"},
		}, nil
	})

	s.AddResourceTemplate(mcp.NewResourceTemplate("fixture://items/{id}", "item",
		mcp.WithTemplateDescription("One fixture item"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "item " + req.Params.URI},
		}, nil
	})

	return s
}

func handleEcho(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResponse(req.GetString("message", "")), nil
}

func handleSleep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms := req.GetFloat("ms", 0)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return textResponse("done"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func handleExit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetBool("orphan", false) {
		if exe, err := os.Executable(); err == nil {
			cmd := exec.Command(exe)
			cmd.Env = append(os.Environ(), envHold+"=3s")
			cmd.Stderr = os.Stderr
			_ = cmd.Start()
		}
	}
	os.Exit(0)
	return nil, nil
}

func handleFail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return errorResponse("fixture failure"), nil
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

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

package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/cli/format"
	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/mcp"
)

func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <server> <tool> [json-args]",
		Short: "Call a tool on an MCP server",
		Long: `Call a tool and print its result. Arguments are a JSON object.
The server's configured timeout bounds the call.

Exits with status 5 when the tool reports an error.`,
		Example: `  # Call a tool without arguments
  mcphub call github list_repos

  # Call with arguments
  mcphub call github search_issues '{"query": "is:open label:bug"}'

  # Raw result as JSON
  mcphub call github search_issues '{"query": "mcp"}' -o json`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, tool := args[0], args[1]

			var toolArgs map[string]any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
					return shared.NewUsageError("tool arguments must be a JSON object", err)
				}
			}

			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			return shared.RunOneShot(cmd, func(ctx context.Context, hub *mcp.Hub) error {
				resp, err := hub.CallTool(ctx, server, tool, toolArgs)
				if err != nil {
					return err
				}
				if err := printer.Print(ctx, resp, func(w io.Writer) error {
					return renderToolResult(w, resp)
				}); err != nil {
					return err
				}
				if resp.IsError {
					return shared.NewToolError(server, tool)
				}
				return nil
			})
		},
	}
	return cmd
}

func renderToolResult(w io.Writer, resp *mcp.ToolCallResponse) error {
	tty := format.IsTTY()
	for _, item := range resp.Content {
		if _, err := fmt.Fprintln(w, format.Content(item, tty)); err != nil {
			return err
		}
	}
	if len(resp.Content) == 0 && resp.StructuredContent != nil {
		data, err := json.MarshalIndent(resp.StructuredContent, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	return nil
}

func newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read <server> <uri>",
		Short: "Read a resource from an MCP server",
		Example: `  # Read a resource
  mcphub read docs docs://readme

  # Read a templated resource as YAML
  mcphub read fs file:///etc/hosts -o yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			return shared.RunOneShot(cmd, func(ctx context.Context, hub *mcp.Hub) error {
				resp, err := hub.ReadResource(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printer.Print(ctx, resp, func(w io.Writer) error {
					tty := format.IsTTY()
					for _, c := range resp.Contents {
						if _, err := fmt.Fprintln(w, format.Resource(c, tty)); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

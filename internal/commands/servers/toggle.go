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
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/mcp"
)

func newToggleCommand(disable bool) *cobra.Command {
	use, short, verb := "enable", "Enable an MCP server", "Enabled"
	if disable {
		use, short, verb = "disable", "Disable an MCP server", "Disabled"
	}

	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Long: short + ` in the settings file. A disabled server stays listed
but its process is stopped and calls to it are rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, args[0], fmt.Sprintf("%s MCP server %s", verb, args[0]), func(ctx context.Context, hub *mcp.Hub) error {
				return hub.ToggleDisabled(ctx, args[0], disable)
			})
		},
	}
}

func newTimeoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "timeout <server> <seconds>",
		Short: "Set a server's tool call timeout",
		Long: `Set the tool call timeout for a server. Values are clamped to
1-3600 seconds.`,
		Example: `  mcphub timeout github 120`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return shared.NewUsageError(fmt.Sprintf("invalid timeout %q", args[1]), err)
			}
			msg := fmt.Sprintf("Set timeout of %s to %ds", args[0], mcp.ClampTimeout(seconds))
			return mutate(cmd, args[0], msg, func(ctx context.Context, hub *mcp.Hub) error {
				return hub.UpdateTimeout(ctx, args[0], seconds)
			})
		},
	}
}

func newAllowCommand() *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "allow <server> <tool>",
		Short: "Always allow a tool without approval",
		Example: `  # Allow a tool
  mcphub allow github search_issues

  # Revoke it again
  mcphub allow github search_issues --revoke`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := fmt.Sprintf("Always allowing %s on %s", args[1], args[0])
			if revoke {
				msg = fmt.Sprintf("Revoked always allow for %s on %s", args[1], args[0])
			}
			return mutate(cmd, args[0], msg, func(ctx context.Context, hub *mcp.Hub) error {
				return hub.ToggleToolAlwaysAllow(ctx, args[0], args[1], !revoke)
			})
		},
	}

	cmd.Flags().BoolVar(&revoke, "revoke", false, "Remove the tool from the allow list")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <server>",
		Short: "Remove an MCP server from the settings file",
		Long: `Remove an MCP server from the settings file and stop it.

Asks for confirmation when run in a terminal unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return shared.RunOneShot(cmd, func(ctx context.Context, hub *mcp.Hub) error {
				if _, err := hub.GetServer(args[0]); err != nil {
					return err
				}
				if !yes {
					ok, err := shared.Confirm(fmt.Sprintf("Delete MCP server %s?", args[0]),
						"The entry is removed from the settings file.")
					if err != nil {
						return err
					}
					if !ok {
						return shared.ErrCancelled
					}
				}
				if err := hub.DeleteServer(ctx, args[0]); err != nil {
					return err
				}
				if !printer.Structured() {
					return nil
				}
				return printer.Print(ctx, map[string]string{"status": "deleted", "name": args[0]}, nil)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking")
	return cmd
}

// mutate runs op and prints the server's resulting state.
func mutate(cmd *cobra.Command, server, message string, op func(context.Context, *mcp.Hub) error) error {
	printer, err := shared.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	return shared.RunOneShot(cmd, func(ctx context.Context, hub *mcp.Hub) error {
		if err := op(ctx, hub); err != nil {
			return err
		}
		info, err := hub.GetServer(server)
		if err != nil {
			return err
		}
		return printer.Print(ctx, info.Redacted(), func(w io.Writer) error {
			_, err := fmt.Fprintln(w, shared.RenderOK(message))
			return err
		})
	})
}

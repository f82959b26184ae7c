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
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/expression"
	"github.com/tombee/mcphub/internal/mcp"
)

func newListCommand() *cobra.Command {
	var (
		showAll bool
		where   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Connect to configured MCP servers and list them",
		Long: `Connect to every enabled server in the settings file and show its
status and capabilities. Disabled servers are hidden unless --all is given.

See also: mcphub call, mcphub logs`,
		Example: `  # List enabled servers
  mcphub list

  # Include disabled servers
  mcphub list --all

  # Names of servers that failed to connect
  mcphub list --jq '.[] | select(.status == "disconnected") | .name'

  # Connected servers offering a search tool
  mcphub list --where 'status == "connected" && "search" in tools'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			eval := expression.New()
			if err := eval.Compile(where); err != nil {
				return err
			}
			return shared.RunOneShot(cmd, func(ctx context.Context, hub *mcp.Hub) error {
				servers := hub.ListEnabledServers()
				if showAll {
					servers = hub.ListAllServers()
				}
				servers, err := eval.Filter(where, servers)
				if err != nil {
					return err
				}
				servers = mcp.RedactServers(servers)
				return printer.Print(ctx, servers, func(w io.Writer) error {
					return renderServers(w, servers)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&showAll, "all", false, "Include disabled servers")
	cmd.Flags().StringVar(&where, "where", "", "Only show servers matching an expression")
	return cmd
}

func renderServers(w io.Writer, servers []mcp.ServerInfo) error {
	if len(servers) == 0 {
		_, err := fmt.Fprintln(w, "No MCP servers configured.")
		return err
	}

	rows := make([][]string, 0, len(servers))
	for _, s := range servers {
		rows = append(rows, []string{
			s.Name,
			shared.RenderServerStatus(s),
			fmt.Sprint(len(s.Tools)),
			fmt.Sprint(len(s.Resources) + len(s.ResourceTemplates)),
			fmt.Sprintf("%ds", s.Timeout),
			truncate(firstLine(s.Error), 60),
		})
	}
	return shared.RenderTable(w, []string{"NAME", "STATUS", "TOOLS", "RESOURCES", "TIMEOUT", "ERROR"}, rows)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

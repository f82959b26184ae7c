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
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/mcp"
)

func newLogsCommand() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <server>",
		Short: "Start a server and show what it writes to stderr",
		Long: `Connect to a server and print the stderr lines it wrote while
starting. Useful for finding out why a server fails to connect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return shared.RunOneShot(cmd, func(ctx context.Context, hub *mcp.Hub) error {
				entries, err := hub.ServerLogs(args[0], lines)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []mcp.LogEntry{}
				}
				return printer.Print(ctx, entries, func(w io.Writer) error {
					if len(entries) == 0 {
						_, err := fmt.Fprintln(w, shared.Muted.Render("no output"))
						return err
					}
					for _, e := range entries {
						if _, err := fmt.Fprintf(w, "%s %s\n", shared.Muted.Render(e.Timestamp.Format(time.TimeOnly)), e.Message); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to show")
	return cmd
}

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

// Package events implements mcphub events, which reads the server event
// history recorded by mcphub serve.
package events

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/api"
	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/config"
	"github.com/tombee/mcphub/internal/history"
	"github.com/tombee/mcphub/internal/mcp"
)

// NewCommand creates the events command.
func NewCommand() *cobra.Command {
	var (
		path      string
		server    string
		eventType string
		since     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded server lifecycle events",
		Long: `Show server lifecycle events (connects, disconnects, restarts and
capability changes) recorded by mcphub serve, newest first.`,
		Example: `  # Why did github keep dropping today?
  mcphub events --server github --type disconnected --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			filter := history.Filter{Server: server, Type: mcp.EventType(eventType), Limit: limit}
			if since != "" {
				if filter.Since, err = api.ParseSince(since, time.Now()); err != nil {
					return shared.NewUsageError("invalid --since", err)
				}
			}

			dbPath, err := config.HistoryPath(path)
			if err != nil {
				return err
			}

			events := []mcp.ServerEvent{}
			if _, err := os.Stat(dbPath); err == nil {
				store, err := history.Open(cmd.Context(), history.Config{Path: dbPath, ReadOnly: true})
				if err != nil {
					return err
				}
				defer store.Close()
				if events, err = store.Query(cmd.Context(), filter); err != nil {
					return err
				}
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			return printer.Print(cmd.Context(), events, func(w io.Writer) error {
				return renderEvents(w, events)
			})
		},
	}

	cmd.Flags().StringVar(&path, "history", "", "Server event database (default: $MCPHUB_HISTORY or ~/.local/state/mcphub/history.db)")
	cmd.Flags().StringVar(&server, "server", "", "Only events for this server")
	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type (connecting, connected, disconnected, removed, restarting, capabilities_changed)")
	cmd.Flags().StringVar(&since, "since", "", "Only events after a time (RFC 3339) or duration ago (e.g. 2h)")
	cmd.Flags().IntVarP(&limit, "lines", "n", 50, "Maximum number of events")
	return cmd
}

func renderEvents(w io.Writer, events []mcp.ServerEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events recorded.")
		return err
	}

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.ServerName,
			string(e.Type),
			formatDetails(e.Details),
		})
	}
	return shared.RenderTable(w, []string{"TIME", "SERVER", "EVENT", "DETAILS"}, rows)
}

func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(fmt.Sprint(details[k]), "\n", " ")
		if len(v) > 80 {
			v = v[:77] + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

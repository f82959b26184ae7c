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

// Package serve implements mcphub serve, the long-running hub with the
// HTTP API.
package serve

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/api"
	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/config"
	"github.com/tombee/mcphub/internal/history"
	"github.com/tombee/mcphub/internal/log"
	"github.com/tombee/mcphub/internal/mcp"
)

// DefaultListenAddr is the API address when --listen is not given.
const DefaultListenAddr = "127.0.0.1:7337"

const shutdownTimeout = 10 * time.Second

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		listen    string
		noWatch   bool
		auth      bool
		history   string
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub and its HTTP API",
		Long: `Run a long-lived hub. Servers are connected at startup and kept in
line with the settings file as it changes. Servers whose build output
(build/index.js) changes are restarted.

The HTTP API is served on --listen. Prometheus metrics are at /metrics.

With --auth every route but /healthz requires a bearer token issued by
mcphub token. The signing key is the api-signing-key secret.`,
		Example: `  # Serve on the default address
  mcphub serve

  # Serve on all interfaces with JSON logs
  mcphub serve --listen :7337 --log-format json

  # Require tokens
  openssl rand -hex 32 | mcphub secret set api-signing-key --stdin
  mcphub serve --auth

  # Export traces to a local collector
  OTEL_EXPORTER_OTLP_ENDPOINT=localhost:4317 OTEL_EXPORTER_OTLP_INSECURE=true mcphub serve --trace otlp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, options{
				listen:      listen,
				watch:       !noWatch,
				requireAuth: auth,
				historyPath: history,
				noHistory:   noHistory,
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", DefaultListenAddr, "Address for the HTTP API")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the settings file or build artifacts")
	cmd.Flags().BoolVar(&auth, "auth", false, "Require bearer tokens on the HTTP API")
	cmd.Flags().StringVar(&history, "history", "", "Server event database (default: $MCPHUB_HISTORY or ~/.local/state/mcphub/history.db)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record server events")
	return cmd
}

type options struct {
	listen      string
	watch       bool
	requireAuth bool
	historyPath string
	noHistory   bool
}

func run(ctx context.Context, cmd *cobra.Command, opts options) error {
	logger := shared.NewLogger("info", cmd.ErrOrStderr())

	var auth *api.Auth
	if opts.requireAuth {
		var err error
		if auth, err = loadAuth(ctx); err != nil {
			return err
		}
	}

	var events *history.Store
	if !opts.noHistory {
		path, err := config.HistoryPath(opts.historyPath)
		if err != nil {
			return err
		}
		if events, err = history.Open(ctx, history.Config{Path: path, Logger: logger}); err != nil {
			return err
		}
		defer func() {
			if err := events.Close(); err != nil {
				logger.Warn("failed to close history", log.Error(err))
			}
		}()
	}

	sessionOpts := shared.SessionOptions{
		Watch:     opts.watch,
		Logger:    logger,
		Sink:      mcp.NewLogSink(logger),
		Telemetry: true,
		Stderr:    cmd.ErrOrStderr(),
	}
	if events != nil {
		sessionOpts.Events = events
	}
	session, err := shared.OpenSession(ctx, sessionOpts)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := session.Close(shutdownCtx); err != nil {
			logger.Warn("hub shutdown failed", log.Error(err))
		}
	}()

	// A broken settings file is not fatal: the watcher applies the next
	// valid write.
	if err := session.Hub.Start(ctx); err != nil {
		if mcp.IsCode(err, mcp.ErrorCodeInternalError) {
			return err
		}
		logger.Warn("settings not applied at startup", log.Error(err), "settings", session.SettingsPath)
	}

	apiCfg := api.Config{Hub: session.Hub, Logger: logger, Auth: auth}
	if events != nil {
		apiCfg.History = events
	}
	router, err := api.NewRouter(apiCfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.listen, err)
	}

	logger.Info("mcphub started",
		"settings", session.SettingsPath,
		"addr", listener.Addr().String(),
		"watch", opts.watch,
		"auth", auth != nil,
		"history", events != nil,
	)
	return api.Serve(ctx, listener, router.Handler(), logger)
}

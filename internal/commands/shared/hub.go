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
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/config"
	"github.com/tombee/mcphub/internal/log"
	"github.com/tombee/mcphub/internal/mcp"
	"github.com/tombee/mcphub/internal/secrets"
	"github.com/tombee/mcphub/internal/tracing"
)

// transportFactory overrides the stdio transport in tests.
var transportFactory mcp.TransportFactory

// SetTransportFactoryForTest makes every hub use factory.
func SetTransportFactoryForTest(factory mcp.TransportFactory) {
	transportFactory = factory
}

// stdioFactory launches real servers, resolving $secret: env references.
// The keychain is only opened once a reference is seen.
func stdioFactory() mcp.TransportFactory {
	var (
		once     sync.Once
		resolver *secrets.Resolver
	)
	return mcp.NewStdioTransportFactory(mcp.WithEnvExpander(func(ctx context.Context, value string) (string, error) {
		if !secrets.IsReference(value) {
			return value, nil
		}
		once.Do(func() { resolver = secrets.NewDefaultResolver() })
		return resolver.Expand(ctx, value)
	}))
}

// SessionOptions configures OpenSession.
type SessionOptions struct {
	// Watch enables the settings and build artifact watchers.
	Watch bool

	// Sink receives hub notifications (default: a TerminalSink on Stderr).
	Sink mcp.NotifySink

	// DefaultLogLevel applies when neither flags nor environment set one.
	DefaultLogLevel string

	// Logger overrides the logger built from flags and environment.
	Logger *slog.Logger

	// Telemetry installs the tracing provider even without --trace, so that
	// OpenTelemetry metrics reach /metrics.
	Telemetry bool

	// Events records hub lifecycle events (optional).
	Events mcp.EventRecorder

	Stderr io.Writer
}

// Session is a hub plus the ambient services built around it.
type Session struct {
	Hub          *mcp.Hub
	Logger       *slog.Logger
	SettingsPath string

	telemetry *tracing.Provider
}

// NewLogger builds the command logger from environment and flags.
func NewLogger(defaultLevel string, w io.Writer) *slog.Logger {
	cfg := log.FromEnv()
	cfg.Output = w
	if defaultLevel != "" && os.Getenv("MCPHUB_DEBUG") == "" &&
		os.Getenv("MCPHUB_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Level = defaultLevel
	}
	if lvl := GetLogLevel(); lvl != "" {
		cfg.Level = lvl
	}
	if format := GetLogFormat(); format != "" {
		cfg.Format = log.Format(format)
	}
	return log.New(cfg)
}

// OpenSession resolves the settings file and builds a hub that is not yet
// started.
func OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.DefaultLogLevel, stderr)
	}

	path, err := config.SettingsPath(GetSettingsPath())
	if err != nil {
		return nil, NewUsageError("cannot locate settings file", err)
	}

	var telemetry *tracing.Provider
	if opts.Telemetry || GetTrace() != "" {
		exporter, err := tracing.ParseExporter(GetTrace())
		if err != nil {
			return nil, NewUsageError("invalid --trace value", err)
		}
		cfg := tracing.DefaultConfig()
		cfg.ServiceVersion = version
		cfg.Exporter = exporter
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
		cfg.Writer = stderr
		telemetry, err = tracing.NewProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	sink := opts.Sink
	if sink == nil {
		sink = NewTerminalSink(stderr, GetQuiet())
	}

	factory := transportFactory
	if factory == nil {
		factory = stdioFactory()
	}

	_, commitID, _ := GetVersion()
	hub, err := mcp.NewHub(mcp.HubConfig{
		Store:            mcp.NewFileSettingsStore(path),
		Sink:             sink,
		Logger:           logger,
		TransportFactory: factory,
		ClientInfo:       mcp.ClientInfo{Name: "mcphub", Version: version + "+" + commitID},
		Watch:            opts.Watch,
		Events:           opts.Events,
	})
	if err != nil {
		if telemetry != nil {
			_ = telemetry.Shutdown(ctx)
		}
		return nil, err
	}

	return &Session{Hub: hub, Logger: logger, SettingsPath: path, telemetry: telemetry}, nil
}

// Close disposes the hub and flushes telemetry.
func (s *Session) Close(ctx context.Context) error {
	err := s.Hub.Dispose(ctx)
	if s.telemetry != nil {
		err = errors.Join(err, s.telemetry.Shutdown(ctx))
	}
	return err
}

// RunOneShot starts an in-process hub for cmd, runs fn and disposes the hub.
// A settings document that cannot be read fails the command.
func RunOneShot(cmd *cobra.Command, fn func(ctx context.Context, hub *mcp.Hub) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	session, err := OpenSession(ctx, SessionOptions{
		DefaultLogLevel: "warn",
		Sink:            NewTerminalSink(cmd.ErrOrStderr(), GetQuiet()),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(context.Background()); closeErr != nil {
			session.Logger.Warn("hub shutdown failed", log.Error(closeErr))
		}
	}()

	if err := session.Hub.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, session.Hub)
}

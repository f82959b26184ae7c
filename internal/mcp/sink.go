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

import "log/slog"

// NotifySink receives hub notifications for presentation. Implementations
// must not block and must not call back into the Hub synchronously.
type NotifySink interface {
	// ServersChanged receives the full server list after every registry change.
	ServersChanged(servers []ServerInfo)

	// ShowInfo surfaces an informational message.
	ShowInfo(message string)

	// ShowError surfaces an error message.
	ShowError(message string)
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) ServersChanged([]ServerInfo) {}
func (NopSink) ShowInfo(string)             {}
func (NopSink) ShowError(string)            {}

// LogSink writes notifications to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger.With("component", "notify")}
}

// ServersChanged logs a one-line summary per server at debug level.
func (s *LogSink) ServersChanged(servers []ServerInfo) {
	for _, server := range servers {
		s.Logger.Debug("server state",
			"server", server.Name,
			"status", string(server.Status),
			"disabled", server.Disabled,
			"tools", len(server.Tools),
		)
	}
}

func (s *LogSink) ShowInfo(message string) {
	s.Logger.Info(message)
}

func (s *LogSink) ShowError(message string) {
	s.Logger.Error(message)
}

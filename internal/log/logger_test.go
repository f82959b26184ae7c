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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v (%s)", err, buf.String())
	}
	return entry
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		level     string
		format    Format
		addSource bool
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			level:   "info",
			format:  FormatJSON,
		},
		{
			name:    "LOG_LEVEL and LOG_FORMAT",
			envVars: map[string]string{"LOG_LEVEL": "WARN", "LOG_FORMAT": "Text"},
			level:   "warn",
			format:  FormatText,
		},
		{
			name:    "MCPHUB_LOG_LEVEL beats LOG_LEVEL",
			envVars: map[string]string{"MCPHUB_LOG_LEVEL": "trace", "LOG_LEVEL": "error"},
			level:   "trace",
			format:  FormatJSON,
		},
		{
			name:      "MCPHUB_DEBUG beats everything",
			envVars:   map[string]string{"MCPHUB_DEBUG": "1", "MCPHUB_LOG_LEVEL": "error"},
			level:     "debug",
			format:    FormatJSON,
			addSource: true,
		},
		{
			name:      "LOG_SOURCE enables source",
			envVars:   map[string]string{"LOG_SOURCE": "1"},
			level:     "info",
			format:    FormatJSON,
			addSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"MCPHUB_DEBUG", "MCPHUB_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			if cfg.Level != tt.level {
				t.Errorf("expected level %q, got %q", tt.level, cfg.Level)
			}
			if cfg.Format != tt.format {
				t.Errorf("expected format %q, got %q", tt.format, cfg.Format)
			}
			if cfg.AddSource != tt.addSource {
				t.Errorf("expected AddSource %v, got %v", tt.addSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	logger.Info("test message", "key", "value")

	entry := decode(t, &buf)
	if entry["msg"] != "test message" {
		t.Errorf("expected msg field to be 'test message', got: %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key field to be 'value', got: %v", entry["key"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level field to be 'INFO', got: %v", entry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := ParseLevel(tt.input); level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	tests := []struct {
		name          string
		configLevel   string
		logFunc       func(*slog.Logger)
		shouldContain bool
	}{
		{"debug log at debug level", "debug", func(l *slog.Logger) { l.Debug("m") }, true},
		{"debug log at info level", "info", func(l *slog.Logger) { l.Debug("m") }, false},
		{"info log at warn level", "warn", func(l *slog.Logger) { l.Info("m") }, false},
		{"trace log at trace level", "trace", func(l *slog.Logger) { Trace(l, "m") }, true},
		{"trace log at debug level", "debug", func(l *slog.Logger) { Trace(l, "m") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(New(&Config{Level: tt.configLevel, Format: FormatJSON, Output: &buf}))

			if contains := buf.Len() > 0; contains != tt.shouldContain {
				t.Errorf("expected log output=%v, got output=%v (output: %s)", tt.shouldContain, contains, buf.String())
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger = WithComponent(logger, "hub")
	logger = WithServer(logger, "github")
	logger = WithRequestID(logger, "req-1")
	logger.Info("scoped", Error(errors.New("boom")))

	entry := decode(t, &buf)
	want := map[string]string{
		ComponentKey: "hub",
		ServerKey:    "github",
		"request_id": "req-1",
		"error":      "boom",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("expected %s=%q, got %v", k, v, entry[k])
		}
	}
}

func TestAddSource(t *testing.T) {
	var buf bytes.Buffer
	New(&Config{Level: "info", Format: FormatJSON, Output: &buf, AddSource: true}).Info("with source")

	if _, ok := decode(t, &buf)["source"]; !ok {
		t.Error("expected source field when AddSource is set")
	}
}

func TestNilConfig(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("expected logger from nil config")
	}
}

func TestEnvAttr_OmitsValues(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	logger.Debug("launching", Env(map[string]string{"TOKEN": "s3cret", "API_URL": "http://x"}))

	if strings.Contains(buf.String(), "s3cret") {
		t.Fatalf("env value leaked into log: %s", buf.String())
	}
	entry := decode(t, &buf)
	keys, ok := entry["env"].([]interface{})
	if !ok || len(keys) != 2 || keys[0] != "API_URL" || keys[1] != "TOKEN" {
		t.Errorf("expected sorted env keys, got %v", entry["env"])
	}
}

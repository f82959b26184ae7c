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

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/tombee/mcphub/internal/secrets"
)

const (
	// DefaultTimeoutSeconds is the tool call timeout when a server sets none.
	DefaultTimeoutSeconds = 60
	// MinTimeoutSeconds is the lower clamp for a configured timeout.
	MinTimeoutSeconds = 1
	// MaxTimeoutSeconds is the upper clamp for a configured timeout.
	MaxTimeoutSeconds = 3600
)

// ServerConfig is the validated configuration of one MCP server.
type ServerConfig struct {
	// Command is the executable to launch
	Command string `json:"command" jsonschema:"required,minLength=1,description=Executable to launch"`

	// Args are passed to the command in order
	Args []string `json:"args,omitempty" jsonschema:"description=Command arguments"`

	// Env holds extra environment variables; PATH is always inherited
	Env map[string]string `json:"env,omitempty" jsonschema:"description=Extra environment variables"`

	// AlwaysAllow lists tools that may run without interactive approval
	AlwaysAllow []string `json:"alwaysAllow,omitempty" jsonschema:"description=Tools approved for invocation without a prompt"`

	Disabled bool `json:"disabled,omitempty" jsonschema:"description=Keep the server listed but reject calls"`

	// Timeout is the tool call timeout in seconds
	Timeout int `json:"timeout,omitempty" jsonschema:"minimum=1,maximum=3600,default=60,description=Tool call timeout in seconds"`
}

// serverConfigWire mirrors ServerConfig with pointer fields so that absent
// and mistyped values can be told apart.
type serverConfigWire struct {
	Command     *string           `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	AlwaysAllow []string          `json:"alwaysAllow"`
	Disabled    *bool             `json:"disabled"`
	Timeout     *float64          `json:"timeout"`
}

// ParseServerConfig validates one mcpServers entry.
// The returned error is an MCPError with ErrorCodeConfig.
func ParseServerConfig(name string, raw json.RawMessage) (ServerConfig, error) {
	var wire serverConfigWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ServerConfig{}, ErrInvalidServerConfig(name, describeDecodeError(err)).WithCause(err)
	}

	if wire.Command == nil {
		return ServerConfig{}, ErrInvalidServerConfig(name, "command is required")
	}
	if strings.TrimSpace(*wire.Command) == "" {
		return ServerConfig{}, ErrInvalidServerConfig(name, "command must not be empty")
	}
	for key := range wire.Env {
		if err := ValidateEnvKey(key); err != nil {
			return ServerConfig{}, ErrInvalidServerConfig(name, err.Error())
		}
	}

	cfg := ServerConfig{
		Command:     *wire.Command,
		Args:        wire.Args,
		Env:         wire.Env,
		AlwaysAllow: wire.AlwaysAllow,
		Timeout:     DefaultTimeoutSeconds,
	}
	if cfg.AlwaysAllow == nil {
		cfg.AlwaysAllow = []string{}
	}
	if wire.Disabled != nil {
		cfg.Disabled = *wire.Disabled
	}
	if wire.Timeout != nil {
		cfg.Timeout = ClampTimeout(*wire.Timeout)
	}
	return cfg, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s has the wrong type: got %s, want %s", typeErr.Field, typeErr.Value, strings.TrimPrefix(typeErr.Type.String(), "*"))
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset)
	}
	return err.Error()
}

// ClampTimeout rounds seconds and clamps it into [MinTimeoutSeconds, MaxTimeoutSeconds].
func ClampTimeout(seconds float64) int {
	s := math.Round(seconds)
	switch {
	case math.IsNaN(s) || s < MinTimeoutSeconds:
		return MinTimeoutSeconds
	case s > MaxTimeoutSeconds:
		return MaxTimeoutSeconds
	}
	return int(s)
}

// TimeoutDuration returns the effective tool call timeout.
func (c ServerConfig) TimeoutDuration() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// Environ returns the child environment: Env plus the inherited PATH.
// PATH always reflects the hub's own PATH.
func (c ServerConfig) Environ(path string) []string {
	env := make([]string, 0, len(c.Env)+1)
	for k, v := range c.Env {
		if k == "PATH" {
			continue
		}
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return append(env, "PATH="+path)
}

// IsToolAllowed reports whether tool is on the allow list.
func (c ServerConfig) IsToolAllowed(tool string) bool {
	return slices.Contains(c.AlwaysAllow, tool)
}

// ValidateEnvKey rejects keys the OS cannot carry in an environment block.
func ValidateEnvKey(key string) error {
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if strings.ContainsAny(key, "=\x00") {
		return fmt.Errorf("invalid environment variable key: %q", key)
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH", "API_KEY",
}

// IsSensitiveEnvKey returns true if the key appears to contain sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

// RedactedValue replaces sensitive env values in output.
const RedactedValue = "***REDACTED***"

// RedactConfigJSON masks sensitive env values in a serialized server config.
// $secret: references name a secret without holding it and stay visible.
// Input that does not decode as an object is returned unchanged.
func RedactConfigJSON(config string) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(config), &doc); err != nil {
		return config
	}
	env, ok := doc["env"].(map[string]any)
	if !ok {
		return config
	}
	changed := false
	for k, v := range env {
		if ref, ok := v.(string); ok && secrets.IsReference(ref) {
			continue
		}
		if IsSensitiveEnvKey(k) {
			env[k] = RedactedValue
			changed = true
		}
	}
	if !changed {
		return config
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return config
	}
	return string(out)
}

// configEqual reports whether two raw server configs are deeply equal
// as JSON values, ignoring formatting and key order.
func configEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// compactJSON returns raw with insignificant whitespace removed.
func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

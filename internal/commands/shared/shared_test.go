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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphub/internal/mcp"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPrinter_Formats(t *testing.T) {
	t.Cleanup(ResetFlagsForTest)
	v := []sample{{"a", 1}, {"b", 2}}

	tests := []struct {
		name   string
		output string
		jq     string
		want   string
	}{
		{"table", OutputTable, "", "TABLE\n"},
		{"json", OutputJSON, "", "[\n  {\n    \"name\": \"a\",\n    \"count\": 1\n  },\n  {\n    \"name\": \"b\",\n    \"count\": 2\n  }\n]\n"},
		{"yaml uses json names", OutputYAML, "", "- count: 1\n  name: a\n- count: 2\n  name: b\n"},
		{"jq forces json", OutputTable, ".[1].name", "\"b\"\n"},
		{"jq with yaml", OutputYAML, "map(.count)", "- 1\n- 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetFlagsForTest()
			SetOutputForTest(tt.output)
			SetJQForTest(tt.jq)

			var buf bytes.Buffer
			p, err := NewPrinter(&buf)
			require.NoError(t, err)
			require.NoError(t, p.Print(context.Background(), v, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, "TABLE")
				return err
			}))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNewPrinter_Invalid(t *testing.T) {
	t.Cleanup(ResetFlagsForTest)

	SetOutputForTest("xml")
	_, err := NewPrinter(io.Discard)
	assert.Equal(t, ExitInvalidConfig, ExitCodeFor(err))

	ResetFlagsForTest()
	SetJQForTest(".[")
	_, err = NewPrinter(io.Discard)
	assert.Equal(t, ExitInvalidConfig, ExitCodeFor(err))
}

func TestRenderTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	require.NoError(t, RenderTable(&buf, []string{"NAME", "STATUS"}, [][]string{{"github", "connected"}}))
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "github")
	assert.Contains(t, buf.String(), "connected")
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("x"), ExitFailed},
		{"exit error", NewToolError("s", "t"), ExitToolError},
		{"config", mcp.ErrInvalidSettings("/x", "bad", nil), ExitInvalidConfig},
		{"not found", mcp.ErrServerNotFound("s"), ExitNotFound},
		{"wrapped not connected", fmt.Errorf("call: %w", mcp.ErrServerNotConnected("s")), ExitUnavailable},
		{"timeout", mcp.ErrTimeout("s", "tools/call", 0), ExitUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestPrintError_Suggestions(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, mcp.ErrServerNotFound("github"))
	assert.Contains(t, buf.String(), "github")

	if len(mcp.ErrServerNotFound("github").Suggestions) > 0 {
		assert.Contains(t, buf.String(), mcp.ErrServerNotFound("github").Suggestions[0])
	}
}

func TestTerminalSink(t *testing.T) {
	var buf bytes.Buffer
	NewTerminalSink(&buf, true).ShowInfo("hidden")
	NewTerminalSink(&buf, true).ShowError("shown")
	NewTerminalSink(&buf, false).ShowInfo("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "visible")
}

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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettings_DocumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"invalid json", `{"mcpServers": {`, "settings must be a JSON object"},
		{"top level array", `[]`, "settings must be a JSON object"},
		{"servers not object", `{"mcpServers": []}`, "\"mcpServers\" must be an object"},
		{"server not object", `{"mcpServers": {"a": "node"}}`, "server \"a\" must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings("/tmp/mcp_settings.json", []byte(tt.data))
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrorCodeConfig))
			assert.Contains(t, errorText(err), tt.wantErr)
		})
	}
}

func TestParseSettings_MissingServersIsEmpty(t *testing.T) {
	settings, err := ParseSettings("s.json", []byte(`{"theme": "dark"}`))
	require.NoError(t, err)
	assert.Empty(t, settings.Names())
	assert.Empty(t, settings.Desired())

	data, err := settings.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme": "dark", "mcpServers": {}}`, string(data))
}

func TestParseSettings_PerServerErrorsAreIsolated(t *testing.T) {
	settings, err := ParseSettings("s.json", []byte(`{
		"mcpServers": {
			"b": {"command": "node"},
			"a": {"args": ["x"]},
			"c": {"command": "python", "timeout": 5}
		}
	}`))
	require.NoError(t, err)

	desired := settings.Desired()
	assert.Equal(t, []string{"b", "a", "c"}, desired.Names())
	assert.NoError(t, desired[0].Err)
	assert.Error(t, desired[1].Err)
	assert.NoError(t, desired[2].Err)
	assert.Equal(t, 5, desired[2].Config.Timeout)
}

func TestSettings_SetServerFieldPreservesDocument(t *testing.T) {
	input := `{
  "theme": "dark",
  "mcpServers": {
    "zeta": {"command": "z", "custom": {"x": 1}},
    "alpha": {"command": "a", "args": ["1"]}
  },
  "trailing": [1, 2]
}`
	settings, err := ParseSettings("s.json", []byte(input))
	require.NoError(t, err)

	raw, err := settings.SetServerField("zeta", "disabled", true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command": "z", "custom": {"x": 1}, "disabled": true}`, string(raw))

	out, err := settings.Marshal()
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasSuffix(text, "\n"))
	assert.Less(t, strings.Index(text, `"theme"`), strings.Index(text, `"mcpServers"`))
	assert.Less(t, strings.Index(text, `"mcpServers"`), strings.Index(text, `"trailing"`))
	assert.Less(t, strings.Index(text, `"zeta"`), strings.Index(text, `"alpha"`))
	assert.Less(t, strings.Index(text, `"custom"`), strings.Index(text, `"disabled"`))

	reparsed, err := ParseSettings("s.json", out)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, reparsed.Names())
	assert.True(t, reparsed.Desired()[0].Config.Disabled)
}

func TestSettings_SetServerFieldUnknownServer(t *testing.T) {
	settings, err := ParseSettings("s.json", []byte(`{"mcpServers": {}}`))
	require.NoError(t, err)

	_, err = settings.SetServerField("missing", "timeout", 10)
	assert.True(t, IsCode(err, ErrorCodeNotFound))
}

func TestSettings_DeleteServer(t *testing.T) {
	settings, err := ParseSettings("s.json", []byte(`{"mcpServers": {"a": {"command": "x"}, "b": {"command": "y"}}}`))
	require.NoError(t, err)

	assert.True(t, settings.DeleteServer("a"))
	assert.False(t, settings.DeleteServer("a"))
	assert.Equal(t, []string{"b"}, settings.Names())
}

func TestSettings_AllowList(t *testing.T) {
	settings, err := ParseSettings("s.json", []byte(`{"mcpServers": {
		"a": {"command": "x", "alwaysAllow": ["read", "list"]},
		"b": {"command": 1}
	}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"read", "list"}, settings.AllowList("a"))
	assert.Nil(t, settings.AllowList("b"))
	assert.Nil(t, settings.AllowList("c"))
}

func TestFileSettingsStore_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mcp_settings.json")
	store := NewFileSettingsStore(path)

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, settings.Names())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mcpServers": {}}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileSettingsStore_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"a": {"command": "x"}}}`), 0600))
	store := NewFileSettingsStore(path)

	settings, err := store.Load()
	require.NoError(t, err)
	_, err = settings.SetServerField("a", "timeout", 30)
	require.NoError(t, err)
	require.NoError(t, store.Save(settings))

	reloaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 30, reloaded.Desired()[0].Config.Timeout)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileSettingsStore_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))

	_, err := NewFileSettingsStore(path).Load()
	assert.True(t, IsCode(err, ErrorCodeConfig))
}

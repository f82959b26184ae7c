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

package schema

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphub/internal/commands/shared"
)

func TestGenerate(t *testing.T) {
	data, err := json.Marshal(Generate())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, SchemaID, doc["$id"])
	assert.Contains(t, doc["required"], "mcpServers")

	servers := doc["properties"].(map[string]any)["mcpServers"].(map[string]any)
	entry := servers["additionalProperties"].(map[string]any)
	props := entry["properties"].(map[string]any)

	for _, field := range []string{"command", "args", "env", "alwaysAllow", "disabled", "timeout"} {
		assert.Contains(t, props, field)
	}
	assert.Equal(t, []any{"command"}, entry["required"])

	timeout := props["timeout"].(map[string]any)
	assert.EqualValues(t, 1, timeout["minimum"])
	assert.EqualValues(t, 3600, timeout["maximum"])
}

func TestSchemaCommand_YAML(t *testing.T) {
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)
	shared.SetOutputForTest(shared.OutputYAML)

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "mcpServers:")
	assert.Contains(t, out.String(), "title: mcphub settings")
}

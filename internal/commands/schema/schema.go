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

// Package schema implements mcphub schema.
package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/mcp"
)

// SchemaID identifies the generated schema.
const SchemaID = "https://github.com/tombee/mcphub/schemas/mcp_settings.schema.json"

// SettingsDocument describes the settings file. Unknown top-level keys are
// allowed and preserved by mcphub.
type SettingsDocument struct {
	MCPServers map[string]mcp.ServerConfig `json:"mcpServers" jsonschema:"required,description=MCP servers keyed by name"`
}

// Generate reflects the settings document schema.
func Generate() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(&SettingsDocument{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "mcphub settings"
	return s
}

// NewCommand creates the schema command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Output the settings file JSON Schema",
		Long: `Output the JSON Schema for mcp_settings.json. Editors can use it
for completion and validation.`,
		Example: `  # Example 1: Output schema to stdout
  mcphub schema > mcp_settings.schema.json

  # Example 2: Output schema in YAML format
  mcphub schema -o yaml

  # Example 3: Inspect the server properties
  mcphub schema --jq '.properties.mcpServers.additionalProperties.properties | keys'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			// A schema has no table view; JSON doubles as the human format
			return printer.Print(cmd.Context(), Generate(), nil)
		},
	}
}

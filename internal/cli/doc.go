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

/*
Package cli provides the root command and shared configuration for the
mcphub CLI.

This package creates the root Cobra command and handles global concerns like
version information, persistent flags, and error handling. Individual
commands are implemented in the internal/commands subpackages.

# Command Tree

	mcphub
	├── serve         Run the hub and its HTTP API
	├── token         Issue a bearer token for serve --auth
	├── list          List configured servers
	├── call          Call a tool
	├── read          Read a resource
	├── enable        Enable a server
	├── disable       Disable a server
	├── timeout       Set a server's tool call timeout
	├── allow         Always allow a tool
	├── delete        Remove a server
	├── logs          Show a server's stderr
	├── events        Show recorded server lifecycle events
	├── secret        Manage $secret: env references (set, delete, check)
	├── schema        Output the settings JSON Schema
	└── version       Show version information

# Global Flags

	--settings     Settings file (default: $MCPHUB_SETTINGS or ~/.config/mcphub/mcp_settings.json)
	-o, --output   table, json or yaml
	--jq           Filter JSON output
	--log-level    trace, debug, info, warn, error
	--log-format   json or text
	--trace        stdout, otlp or otlp-http
	-q, --quiet    Suppress informational messages

# Exit Codes

	0  success
	1  failure
	2  invalid settings or usage
	3  server not found
	4  server unavailable
	5  tool reported an error
*/
package cli

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
Package mcp supervises a set of MCP servers described by a settings file.

Each server is a child process speaking the Model Context Protocol over
stdio. The Hub keeps one Connection per configured server and reconciles
that set against the settings document whenever it changes.

# Settings

The settings document is a JSON object:

	{
	  "mcpServers": {
	    "filesystem": {
	      "command": "npx",
	      "args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"],
	      "env": {"DEBUG": "1"},
	      "alwaysAllow": ["read_file"],
	      "disabled": false,
	      "timeout": 60
	    }
	  }
	}

Key order of mcpServers is the display order. Unknown keys and fields are
preserved when the hub rewrites the file. A document that does not parse
leaves every connection untouched; a single invalid server entry becomes
a disconnected server carrying the validation error.

# Lifecycle

	hub, err := mcp.NewHub(mcp.HubConfig{
	    Store:  mcp.NewFileSettingsStore(path),
	    Sink:   mcp.NewLogSink(logger),
	    Logger: logger,
	    Watch:  true,
	})
	if err := hub.Start(ctx); err != nil { ... }
	defer hub.Dispose(context.Background())

A Connection moves from connecting to connected or disconnected, and from
connected to disconnected. It never comes back: restart and reconciliation
create a new Connection. Everything a server writes to stderr is kept in
a per-server log and, until the handshake succeeds or after the connection
drops, appended to the server's error text.

# Reconciliation

Reconciliation removes servers that left the document, adds new ones,
recreates changed ones and leaves servers whose config is unchanged alone.
Passes are serialized by a single guard that every other registry mutation
also takes.

# Watching

With Watch set, the hub reconciles after the settings file is saved and
restarts a server when a build artifact among its args changes (by default
any arg whose path ends in build/index.js).

# Notifications

A NotifySink receives the full server list after every change, in settings
order, plus informational and error messages. The sink is called without
any hub lock held.
*/
package mcp

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
Package secrets resolves secret references in MCP server environments.

A server's env block may name a secret instead of carrying it:

	"env": { "GITHUB_TOKEN": "$secret:github-token" }

The reference is resolved when the server process launches and is never
written back to the settings file. Backends are queried in priority order:

	env      - MCPHUB_SECRET_<KEY> environment variables (read-only)
	keychain - OS keychain under the "mcphub" service
	file     - AES-GCM sealed secrets.enc in the config dir, keyed by
	           MCPHUB_MASTER_KEY or a 0600 master.key file

Values without the prefix pass through unchanged.
*/
package secrets

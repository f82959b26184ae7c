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

// Package servers implements the one-shot server commands. Each command
// starts an in-process hub from the settings file, performs one operation
// and shuts the hub down again.
package servers

import (
	"github.com/spf13/cobra"
)

// NewCommands returns every server command.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		newListCommand(),
		newCallCommand(),
		newReadCommand(),
		newToggleCommand(false),
		newToggleCommand(true),
		newTimeoutCommand(),
		newAllowCommand(),
		newDeleteCommand(),
		newLogsCommand(),
	}
}

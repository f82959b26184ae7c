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

// Package secret implements the secret commands, which manage the values
// that "$secret:<key>" references in a server's env resolve to.
package secret

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/secrets"
)

// NewCommand creates the secret command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets referenced from server environments",
		Long: `Manage secrets referenced from server environments.

A server env value of the form "$secret:<key>" is resolved when the server
starts, first from the MCPHUB_SECRET_<KEY> environment variable and then
from the OS keychain. The settings file keeps the reference.`,
	}
	cmd.AddCommand(newSetCommand(), newDeleteCommand(), newCheckCommand())
	return cmd
}

func newSetCommand() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret in the OS keychain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(cmd, args[0], fromStdin)
			if err != nil {
				return err
			}
			if err := secrets.NewDefaultResolver().Set(cmd.Context(), args[0], value); err != nil {
				return err
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Stored secret %s", args[0])))
				fmt.Fprintln(cmd.OutOrStdout(), shared.Muted.Render(
					fmt.Sprintf("Reference it as \"%s%s\"", secrets.ReferencePrefix, args[0])))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the value from standard input")
	return cmd
}

func readValue(cmd *cobra.Command, key string, fromStdin bool) (string, error) {
	if !fromStdin {
		if !shared.Interactive() {
			return "", shared.NewUsageError("no terminal to prompt on; pass --stdin", nil)
		}
		return shared.PromptSecret(fmt.Sprintf("Value for %s", key))
	}

	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return "", shared.NewUsageError("secret value is empty", nil)
	}
	return value, nil
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret from the OS keychain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := secrets.NewDefaultResolver().Delete(cmd.Context(), args[0])
			if errors.Is(err, secrets.ErrSecretNotFound) {
				return &shared.ExitError{Code: shared.ExitNotFound, Message: fmt.Sprintf("secret %s not found", args[0])}
			}
			if err != nil {
				return err
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Deleted secret %s", args[0])))
			}
			return nil
		},
	}
}

// CheckResult reports where a secret resolves from. The value is never shown.
type CheckResult struct {
	Key      string   `json:"key"`
	Found    bool     `json:"found"`
	Backend  string   `json:"backend,omitempty"`
	EnvVar   string   `json:"envVar"`
	Backends []string `json:"backends"`
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <key>",
		Short: "Show which backend a secret resolves from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := shared.NewPrinter(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			result := CheckResult{Key: args[0], EnvVar: secrets.EnvName(args[0]), Backends: []string{}}
			for _, backend := range secrets.NewDefaultResolver().Backends() {
				result.Backends = append(result.Backends, backend.Name())
				if result.Found {
					continue
				}
				if _, err := backend.Get(cmd.Context(), args[0]); err == nil {
					result.Found = true
					result.Backend = backend.Name()
				}
			}

			if err := printer.Print(cmd.Context(), result, func(w io.Writer) error {
				if result.Found {
					_, err := fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("%s resolves from %s", result.Key, result.Backend)))
					return err
				}
				_, err := fmt.Fprintln(w, shared.RenderWarn(fmt.Sprintf("%s not found (set %s or run: mcphub secret set %s)",
					result.Key, result.EnvVar, result.Key)))
				return err
			}); err != nil {
				return err
			}
			if !result.Found {
				return &shared.ExitError{Code: shared.ExitNotFound, Message: fmt.Sprintf("secret %s not found", args[0])}
			}
			return nil
		},
	}
}

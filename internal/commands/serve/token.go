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

package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphub/internal/api"
	"github.com/tombee/mcphub/internal/commands/shared"
	"github.com/tombee/mcphub/internal/secrets"
)

// loadAuth builds the API authenticator from the signing key secret.
func loadAuth(ctx context.Context) (*api.Auth, error) {
	key, err := secrets.NewDefaultResolver().Get(ctx, api.SigningKeySecret)
	if err != nil {
		return nil, shared.NewUsageError(fmt.Sprintf(
			"no API signing key: set %s or run: mcphub secret set %s",
			secrets.EnvName(api.SigningKeySecret), api.SigningKeySecret), err)
	}
	auth, err := api.NewAuth([]byte(key))
	if err != nil {
		return nil, shared.NewUsageError("invalid API signing key", err)
	}
	return auth, nil
}

// NewTokenCommand creates the token command.
func NewTokenCommand() *cobra.Command {
	var (
		ttl      time.Duration
		subject  string
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for mcphub serve --auth",
		Example: `  # Token for a dashboard that only reads
  mcphub token --subject dashboard --read-only --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := loadAuth(cmd.Context())
			if err != nil {
				return err
			}
			token, err := auth.Issue(subject, ttl, readOnly)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Only allow GET requests")
	return cmd
}

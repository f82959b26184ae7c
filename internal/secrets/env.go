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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvBackendPriority lets environment variables override the keychain.
	EnvBackendPriority = 100

	envSecretPrefix = "MCPHUB_SECRET_"
)

// EnvBackend reads secrets from MCPHUB_SECRET_* environment variables.
type EnvBackend struct {
	lookup func(string) (string, bool)
}

// NewEnvBackend creates a backend over the process environment.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{lookup: os.LookupEnv}
}

func (e *EnvBackend) Name() string { return "env" }

func (e *EnvBackend) Get(_ context.Context, key string) (string, error) {
	name := EnvName(key)
	if value, ok := e.lookup(name); ok && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s not set", ErrSecretNotFound, name)
}

func (e *EnvBackend) Set(context.Context, string, string) error {
	return ErrReadOnlyBackend
}

func (e *EnvBackend) Delete(context.Context, string) error {
	return ErrReadOnlyBackend
}

func (e *EnvBackend) Available() bool { return true }

func (e *EnvBackend) Priority() int { return EnvBackendPriority }

// EnvName returns the environment variable that overrides key.
// Example: "github-token" -> "MCPHUB_SECRET_GITHUB_TOKEN"
func EnvName(key string) string {
	r := strings.NewReplacer("-", "_", "/", "_", ".", "_")
	return envSecretPrefix + strings.ToUpper(r.Replace(key))
}

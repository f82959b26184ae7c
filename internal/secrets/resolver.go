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
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tombee/mcphub/internal/config"
)

// ReferencePrefix marks an env value that names a secret.
const ReferencePrefix = "$secret:"

// Resolver queries a chain of backends in priority order.
type Resolver struct {
	backends []SecretBackend
}

// NewResolver creates a resolver over the available backends, sorted by
// priority (highest first).
func NewResolver(backends ...SecretBackend) *Resolver {
	available := make([]SecretBackend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})
	return &Resolver{backends: available}
}

// NewDefaultResolver returns the chain used at launch: environment,
// keychain, then the encrypted file when a master key is configured.
func NewDefaultResolver() *Resolver {
	backends := []SecretBackend{NewEnvBackend(), NewKeychainBackend()}
	if dir, err := config.ConfigDir(); err == nil {
		backends = append(backends, NewFileBackend(filepath.Join(dir, SecretsFileName), ""))
	}
	return NewResolver(backends...)
}

// Get returns the first value found for key.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Set stores a secret in the first writable backend.
func (r *Resolver) Set(ctx context.Context, key, value string) error {
	for _, backend := range r.backends {
		err := backend.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return nil
	}
	return fmt.Errorf("%w: no writable backend", ErrBackendUnavailable)
}

// Delete removes key from every writable backend holding it.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, backend := range r.backends {
		err := backend.Delete(ctx, key)
		if errors.Is(err, ErrReadOnlyBackend) || errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete secret from %s: %w", backend.Name(), err)
		}
		deleted = true
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return nil
}

// Backends returns the available backends in priority order.
func (r *Resolver) Backends() []SecretBackend {
	return r.backends
}

// IsReference reports whether value names a secret.
func IsReference(value string) bool {
	return strings.HasPrefix(value, ReferencePrefix)
}

// Expand resolves value if it is a secret reference and returns it
// unchanged otherwise.
func (r *Resolver) Expand(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	key := strings.TrimSpace(strings.TrimPrefix(value, ReferencePrefix))
	if key == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	return r.Get(ctx, key)
}

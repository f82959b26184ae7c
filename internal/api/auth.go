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

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SigningKeySecret names the secret holding the HS256 token key.
	SigningKeySecret = "api-signing-key"

	// TokenIssuer is the iss claim of issued tokens.
	TokenIssuer = "mcphub"

	defaultTokenTTL = 24 * time.Hour
	minKeyLength    = 32
)

// ErrWeakKey is returned for signing keys shorter than 32 bytes.
var ErrWeakKey = errors.New("signing key must be at least 32 bytes")

// Claims are the claims of an API token.
type Claims struct {
	jwt.RegisteredClaims
	// ReadOnly tokens may only use GET routes.
	ReadOnly bool `json:"ro,omitempty"`
}

// Auth issues and checks HS256 bearer tokens for the API.
type Auth struct {
	key       []byte
	clockSkew time.Duration
	now       func() time.Time
}

// NewAuth creates an authenticator over key.
func NewAuth(key []byte) (*Auth, error) {
	if len(key) < minKeyLength {
		return nil, ErrWeakKey
	}
	return &Auth{key: key, clockSkew: 30 * time.Second, now: time.Now}, nil
}

// Issue signs a token for subject. A zero ttl means 24h.
func (a *Auth) Issue(subject string, ttl time.Duration, readOnly bool) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ReadOnly: readOnly,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token.
func (a *Auth) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithLeeway(a.clockSkew),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token. /healthz stays
// open for probes.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := a.Validate(strings.TrimSpace(token))
		if err != nil {
			unauthorized(w, "invalid bearer token")
			return
		}
		if claims.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusForbidden, "token is read-only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcphub"`)
	writeError(w, http.StatusUnauthorized, message)
}

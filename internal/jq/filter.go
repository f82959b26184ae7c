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

// Package jq applies jq filters to command output.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single filter evaluation
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest encoded input a filter accepts (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Filter is a compiled jq expression.
type Filter struct {
	expression   string
	code         *gojq.Code
	timeout      time.Duration
	maxInputSize int
}

// Compile parses and compiles a jq expression. An empty expression yields
// a nil Filter, which passes values through unchanged.
func Compile(expression string) (*Filter, error) {
	if expression == "" {
		return nil, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}

	return &Filter{
		expression:   expression,
		code:         code,
		timeout:      DefaultTimeout,
		maxInputSize: DefaultMaxInputSize,
	}, nil
}

// WithTimeout returns a copy of the filter with a different evaluation timeout.
func (f *Filter) WithTimeout(timeout time.Duration) *Filter {
	clone := *f
	clone.timeout = timeout
	return &clone
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expression
}

// Run evaluates the filter against v and returns every emitted value.
// v may be any JSON-encodable Go value; it is normalized to the generic
// shape gojq expects first. A nil Filter returns v unchanged.
func (f *Filter) Run(ctx context.Context, v any) ([]any, error) {
	if f == nil {
		return []any{v}, nil
	}

	input, err := f.normalize(v)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var results []any
	iter := f.code.RunWithContext(ctx, input)
	for {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := value.(error); isErr {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("jq execution timeout after %v", f.timeout)
			}
			return nil, err
		}
		results = append(results, value)
	}
	return results, nil
}

func (f *Filter) normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	if len(data) > f.maxInputSize {
		return nil, fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)", len(data), f.maxInputSize)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return generic, nil
}

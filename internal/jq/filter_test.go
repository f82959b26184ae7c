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

package jq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func TestFilter_Run(t *testing.T) {
	servers := []server{{"github", "connected"}, {"fs", "disconnected"}}

	tests := []struct {
		name       string
		expression string
		data       any
		want       []any
	}{
		{
			name:       "field extraction from structs",
			expression: ".[0].name",
			data:       servers,
			want:       []any{"github"},
		},
		{
			name:       "multiple outputs",
			expression: ".[].status",
			data:       servers,
			want:       []any{"connected", "disconnected"},
		},
		{
			name:       "select",
			expression: `[.[] | select(.status == "connected") | .name]`,
			data:       servers,
			want:       []any{[]any{"github"}},
		},
		{
			name:       "numbers decode as float64",
			expression: "map(.x)",
			data:       []map[string]int{{"x": 1}, {"x": 2}},
			want:       []any{[]any{float64(1), float64(2)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := Compile(tt.expression)
			require.NoError(t, err)

			got, err := filter.Run(context.Background(), tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile(t *testing.T) {
	filter, err := Compile("")
	require.NoError(t, err)
	assert.Nil(t, filter)

	got, err := filter.Run(context.Background(), map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": 1}}, got)

	_, err = Compile(".[")
	assert.ErrorContains(t, err, "invalid jq expression")
}

func TestFilter_RuntimeError(t *testing.T) {
	filter, err := Compile(".foo")
	require.NoError(t, err)

	_, err = filter.Run(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestFilter_Timeout(t *testing.T) {
	filter, err := Compile("reduce range(1e12) as $i (0; . + $i)")
	require.NoError(t, err)

	_, err = filter.WithTimeout(50*time.Millisecond).Run(context.Background(), 0)
	assert.ErrorContains(t, err, "timeout")
}

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

package mcp

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordConnections(t *testing.T) {
	recordConnections([]ServerInfo{
		{Name: "a", Status: StatusConnected},
		{Name: "b", Status: StatusConnected},
		{Name: "c", Status: StatusDisconnected},
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(hubConnections.WithLabelValues("connected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(hubConnections.WithLabelValues("disconnected")))
	assert.Equal(t, float64(0), testutil.ToFloat64(hubConnections.WithLabelValues("connecting")))

	recordConnections(nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(hubConnections.WithLabelValues("connected")))
}

func TestRecordToolCall(t *testing.T) {
	before := testutil.ToFloat64(hubToolCalls.WithLabelValues("metrics-test", "TIMEOUT"))

	recordToolCall("metrics-test", ErrTimeout("metrics-test", "tools/call", time.Second), time.Second)
	recordToolCall("metrics-test", nil, time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(hubToolCalls.WithLabelValues("metrics-test", "TIMEOUT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(hubToolCalls.WithLabelValues("metrics-test", "ok")))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "ok", resultLabel(nil))
	assert.Equal(t, "NOT_FOUND", resultLabel(ErrServerNotFound("x")))
	assert.Equal(t, "error", resultLabel(errors.New("plain")))
}

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

package shared

import (
	"fmt"
	"io"
	"sync"

	"github.com/tombee/mcphub/internal/mcp"
)

// TerminalSink prints hub messages for an interactive user.
type TerminalSink struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

// NewTerminalSink creates a sink writing to out. Quiet drops info messages.
func NewTerminalSink(out io.Writer, quiet bool) *TerminalSink {
	return &TerminalSink{out: out, quiet: quiet}
}

func (s *TerminalSink) ServersChanged([]mcp.ServerInfo) {}

func (s *TerminalSink) ShowInfo(message string) {
	if s.quiet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, RenderOK(message))
}

func (s *TerminalSink) ShowError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, RenderError(message))
}

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
	"sync"
	"time"
)

// defaultLogLines is the number of stderr lines kept per server.
const defaultLogLines = 1000

// LogEntry is one line a server wrote to its error stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`

	// ConnectionID identifies the connection instance that produced the line.
	ConnectionID string `json:"connectionId"`
}

// RingBuffer is a fixed-size circular buffer for log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int
	count   int
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultLogLines
	}
	return &RingBuffer{entries: make([]LogEntry, capacity)}
}

// Add adds a log entry, overwriting the oldest when full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.entries)
	rb.entries[(rb.head+rb.count)%size] = entry
	if rb.count < size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % size
	}
}

// Last returns the last n entries, oldest first. n <= 0 returns everything.
func (rb *RingBuffer) Last(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	result := make([]LogEntry, n)
	start := rb.count - n
	for i := range n {
		result[i] = rb.entries[(rb.head+start+i)%len(rb.entries)]
	}
	return result
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// LogCapture keeps recent stderr output per server name. History survives
// reconnects so a crash loop can be read back across instances.
type LogCapture struct {
	mu      sync.RWMutex
	buffers map[string]*RingBuffer
	lines   int
}

// NewLogCapture creates a log capture keeping lines entries per server.
func NewLogCapture(lines int) *LogCapture {
	if lines <= 0 {
		lines = defaultLogLines
	}
	return &LogCapture{
		buffers: make(map[string]*RingBuffer),
		lines:   lines,
	}
}

// Add records one stderr line for a server.
func (lc *LogCapture) Add(serverName, connectionID, message string) {
	lc.mu.Lock()
	buf, ok := lc.buffers[serverName]
	if !ok {
		buf = NewRingBuffer(lc.lines)
		lc.buffers[serverName] = buf
	}
	lc.mu.Unlock()

	buf.Add(LogEntry{
		Timestamp:    time.Now(),
		Message:      message,
		ConnectionID: connectionID,
	})
}

// Tail returns up to n recent lines for a server, oldest first.
func (lc *LogCapture) Tail(serverName string, n int) []LogEntry {
	lc.mu.RLock()
	buf, ok := lc.buffers[serverName]
	lc.mu.RUnlock()

	if !ok {
		return nil
	}
	return buf.Last(n)
}

// Remove drops the history of a server that left the settings.
func (lc *LogCapture) Remove(serverName string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.buffers, serverName)
}

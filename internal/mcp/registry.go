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

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry is the authoritative set of live connections, at most one per
// server name, in insertion order. It is owned by a Hub; mutations are
// serialized by the hub's reconcile guard.
type Registry struct {
	mu    sync.RWMutex
	conns *orderedmap.OrderedMap[string, *Connection]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: orderedmap.New[string, *Connection]()}
}

// Get returns the connection for name, or nil.
func (r *Registry) Get(name string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, _ := r.conns.Get(name)
	return conn
}

// All returns every connection in insertion order.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Connection, 0, r.conns.Len())
	for pair := r.conns.Oldest(); pair != nil; pair = pair.Next() {
		all = append(all, pair.Value)
	}
	return all
}

// Enabled returns every connection whose server is not disabled.
func (r *Registry) Enabled() []*Connection {
	all := r.All()
	enabled := all[:0]
	for _, conn := range all {
		if !conn.Disabled() {
			enabled = append(enabled, conn)
		}
	}
	return enabled
}

// Names returns the registered server names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, r.conns.Len())
	for pair := r.conns.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Len returns the number of connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns.Len()
}

// Upsert inserts conn, replacing any connection with the same name. The
// replaced connection is closed if the caller has not already done so.
func (r *Registry) Upsert(conn *Connection) {
	r.mu.Lock()
	old, present := r.conns.Delete(conn.Name())
	r.conns.Set(conn.Name(), conn)
	r.mu.Unlock()

	if present && old != conn {
		_ = old.close()
	}
}

// Remove closes and drops the connection for name. It returns the removed
// connection, or nil when there was none.
func (r *Registry) Remove(name string) (*Connection, error) {
	r.mu.Lock()
	conn, present := r.conns.Delete(name)
	r.mu.Unlock()

	if !present {
		return nil, nil
	}
	return conn, conn.close()
}

// Clear drops every connection and returns them for the caller to close.
func (r *Registry) Clear() []*Connection {
	r.mu.Lock()
	all := make([]*Connection, 0, r.conns.Len())
	for pair := r.conns.Oldest(); pair != nil; pair = pair.Next() {
		all = append(all, pair.Value)
	}
	r.conns = orderedmap.New[string, *Connection]()
	r.mu.Unlock()
	return all
}

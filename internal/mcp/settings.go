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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// serversKey is the top-level settings key holding the server map.
const serversKey = "mcpServers"

// defaultSettings is written when the settings file does not exist.
var defaultSettings = []byte("{\n  \"mcpServers\": {}\n}\n")

// Settings is a parsed settings document. Key order and unknown fields
// are preserved so that a read-modify-write only changes what it touches.
type Settings struct {
	doc     *orderedmap.OrderedMap[string, json.RawMessage]
	servers *orderedmap.OrderedMap[string, json.RawMessage]
}

// ServerEntry is one desired server: its raw config and the result of validating it.
type ServerEntry struct {
	Name string
	Raw  json.RawMessage

	// Config is valid only when Err is nil
	Config ServerConfig
	Err    error
}

// DesiredState is the ordered list of servers a settings document asks for.
type DesiredState []ServerEntry

// Names returns the server names in settings order.
func (d DesiredState) Names() []string {
	names := make([]string, len(d))
	for i, e := range d {
		names[i] = e.Name
	}
	return names
}

// ParseSettings parses and structurally validates a settings document.
// Document-level problems are returned as an MCPError with ErrorCodeConfig;
// problems inside a single server entry are reported through Desired.
func ParseSettings(path string, data []byte) (*Settings, error) {
	doc := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, ErrInvalidSettings(path, "settings must be a JSON object: "+describeDecodeError(err), err)
	}

	servers := orderedmap.New[string, json.RawMessage]()
	raw, ok := doc.Get(serversKey)
	if !ok {
		// No servers configured yet; Marshal adds the key on the next write.
		return &Settings{doc: doc, servers: servers}, nil
	}
	if !isJSONObject(raw) {
		return nil, ErrInvalidSettings(path, "\"mcpServers\" must be an object", nil)
	}
	if err := json.Unmarshal(raw, servers); err != nil {
		return nil, ErrInvalidSettings(path, "\"mcpServers\" must be an object: "+describeDecodeError(err), err)
	}
	for pair := servers.Oldest(); pair != nil; pair = pair.Next() {
		if !isJSONObject(pair.Value) {
			return nil, ErrInvalidSettings(path, fmt.Sprintf("server %q must be an object", pair.Key), nil)
		}
	}

	return &Settings{doc: doc, servers: servers}, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Names returns the server names in document order.
func (s *Settings) Names() []string {
	names := make([]string, 0, s.servers.Len())
	for pair := s.servers.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Server returns the raw config of one server.
func (s *Settings) Server(name string) (json.RawMessage, bool) {
	return s.servers.Get(name)
}

// Desired validates every server entry and returns them in document order.
func (s *Settings) Desired() DesiredState {
	desired := make(DesiredState, 0, s.servers.Len())
	for pair := s.servers.Oldest(); pair != nil; pair = pair.Next() {
		entry := ServerEntry{Name: pair.Key, Raw: pair.Value}
		entry.Config, entry.Err = ParseServerConfig(pair.Key, pair.Value)
		desired = append(desired, entry)
	}
	return desired
}

// AllowList returns the alwaysAllow list of a server, or nil when the
// server is absent or its entry is invalid.
func (s *Settings) AllowList(name string) []string {
	raw, ok := s.servers.Get(name)
	if !ok {
		return nil
	}
	cfg, err := ParseServerConfig(name, raw)
	if err != nil {
		return nil
	}
	return cfg.AlwaysAllow
}

// SetServerField sets one field of a server entry, keeping the entry's other
// fields and their order. It returns the updated raw entry.
func (s *Settings) SetServerField(name, field string, value any) (json.RawMessage, error) {
	raw, ok := s.servers.Get(name)
	if !ok {
		return nil, ErrServerNotFound(name)
	}
	fields := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(raw, fields); err != nil {
		return nil, fmt.Errorf("decode server %q: %w", name, err)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", field, err)
	}
	fields.Set(field, encoded)

	updated, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode server %q: %w", name, err)
	}
	s.servers.Set(name, updated)
	return updated, nil
}

// DeleteServer removes a server entry. It reports whether the entry existed.
func (s *Settings) DeleteServer(name string) bool {
	_, present := s.servers.Delete(name)
	return present
}

// Marshal renders the document with two-space indentation.
func (s *Settings) Marshal() ([]byte, error) {
	servers, err := json.Marshal(s.servers)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", serversKey, err)
	}
	s.doc.Set(serversKey, servers)

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return append(data, '\n'), nil
}

// SettingsStore reads and writes the whole settings document.
type SettingsStore interface {
	// Path identifies the document in messages and is the file watched for changes.
	Path() string

	// Load reads, parses and validates the document.
	Load() (*Settings, error)

	// Save replaces the document.
	Save(settings *Settings) error
}

// FileSettingsStore keeps the settings document in a JSON file.
type FileSettingsStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSettingsStore returns a store for the file at path.
func NewFileSettingsStore(path string) *FileSettingsStore {
	return &FileSettingsStore{path: path}
}

// Path returns the settings file path.
func (s *FileSettingsStore) Path() string {
	return s.path
}

// EnsureExists creates the settings file with an empty server map when missing.
func (s *FileSettingsStore) EnsureExists() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat settings file: %w", err)
	}
	return s.writeLocked(defaultSettings)
}

// Load reads and parses the settings file, creating it first when missing.
func (s *FileSettingsStore) Load() (*Settings, error) {
	if err := s.EnsureExists(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(s.path, data)
}

// Save writes the settings file atomically.
func (s *FileSettingsStore) Save(settings *Settings) error {
	data, err := settings.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(data)
}

// writeLocked writes data via a temp file and rename (caller must hold lock).
func (s *FileSettingsStore) writeLocked(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("failed to save settings file: %w", err)
	}
	return nil
}

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
	"context"
	"log/slog"
	"time"
)

// capabilityCache fetches the tools, resources and resource templates of a
// connection. A failed fetch yields an empty list: a server that does not
// implement a method simply has no such capabilities.
type capabilityCache struct {
	store   SettingsStore
	timeout time.Duration
	events  *EventEmitter
	logger  *slog.Logger
}

// fetchTools lists tools and marks those on the server's current allow list.
// The allow list is read from the settings document on every call.
func (c *capabilityCache) fetchTools(ctx context.Context, conn *Connection) []Tool {
	t := conn.liveTransport()
	if t == nil {
		return []Tool{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	tools, err := t.ListTools(ctx)
	if err != nil {
		c.logger.Debug("tools/list failed", "server", conn.Name(), "error", err)
		return []Tool{}
	}

	allowed := c.allowList(conn.Name())
	for i := range tools {
		tools[i].AlwaysAllow = allowed[tools[i].Name]
	}
	return tools
}

// fetchResources lists resources.
func (c *capabilityCache) fetchResources(ctx context.Context, conn *Connection) []Resource {
	t := conn.liveTransport()
	if t == nil {
		return []Resource{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resources, err := t.ListResources(ctx)
	if err != nil {
		c.logger.Debug("resources/list failed", "server", conn.Name(), "error", err)
		return []Resource{}
	}
	return resources
}

// fetchResourceTemplates lists resource templates.
func (c *capabilityCache) fetchResourceTemplates(ctx context.Context, conn *Connection) []ResourceTemplate {
	t := conn.liveTransport()
	if t == nil {
		return []ResourceTemplate{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	templates, err := t.ListResourceTemplates(ctx)
	if err != nil {
		c.logger.Debug("resources/templates/list failed", "server", conn.Name(), "error", err)
		return []ResourceTemplate{}
	}
	return templates
}

// refresh replaces all three capability lists on conn.
func (c *capabilityCache) refresh(ctx context.Context, conn *Connection) {
	tools := c.fetchTools(ctx, conn)
	resources := c.fetchResources(ctx, conn)
	templates := c.fetchResourceTemplates(ctx, conn)
	conn.setCapabilities(tools, resources, templates)
	c.events.EmitCapabilitiesChanged(conn, len(tools), len(resources), len(templates))
}

// refreshTools replaces only the tool list, after an allow list edit.
func (c *capabilityCache) refreshTools(ctx context.Context, conn *Connection) {
	conn.setTools(c.fetchTools(ctx, conn))
}

func (c *capabilityCache) allowList(name string) map[string]bool {
	settings, err := c.store.Load()
	if err != nil {
		c.logger.Debug("settings unreadable, no tools pre-approved", "server", name, "error", err)
		return nil
	}
	allowed := make(map[string]bool)
	for _, tool := range settings.AllowList(name) {
		allowed[tool] = true
	}
	return allowed
}

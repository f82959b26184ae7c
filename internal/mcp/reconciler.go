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

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxParallelConnects bounds how many servers one pass launches at once.
const maxParallelConnects = 8

// Reconciler applies a desired state to the Registry with minimal churn.
// One guard serializes every registry mutation: a pass started while
// another is in flight waits for it.
type Reconciler struct {
	guard     *semaphore.Weighted
	registry  *Registry
	connector *connector
	artifacts *ArtifactWatcher
	logs      *LogCapture
	events    *EventEmitter
	logger    *slog.Logger
}

func newReconciler(registry *Registry, conn *connector, artifacts *ArtifactWatcher, logs *LogCapture, events *EventEmitter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		guard:     semaphore.NewWeighted(1),
		registry:  registry,
		connector: conn,
		artifacts: artifacts,
		logs:      logs,
		events:    events,
		logger:    logger,
	}
}

// lock acquires the guard. The returned func releases it.
func (r *Reconciler) lock(ctx context.Context) (func(), error) {
	if err := r.guard.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { r.guard.Release(1) }, nil
}

// Reconcile applies desired under the guard.
func (r *Reconciler) Reconcile(ctx context.Context, desired DesiredState) error {
	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	r.reconcileLocked(desired)
	return nil
}

// reconcileLocked removes servers that left desired, adds new ones,
// recreates changed ones and leaves unchanged ones alone. The caller holds
// the guard.
func (r *Reconciler) reconcileLocked(desired DesiredState) {
	r.rebuildArtifactWatches(desired)

	wanted := make(map[string]bool, len(desired))
	for _, entry := range desired {
		wanted[entry.Name] = true
	}
	for _, name := range r.registry.Names() {
		if !wanted[name] {
			r.remove(name)
			r.logs.Remove(name)
			recordReconcileOp("remove")
		}
	}

	var pending []*Connection
	for _, entry := range desired {
		current := r.registry.Get(entry.Name)
		switch {
		case current == nil:
			recordReconcileOp("add")
		case configEqual(current.Raw(), entry.Raw):
			recordReconcileOp("noop")
			continue
		default:
			r.logger.Info("server config changed, reconnecting", "server", entry.Name)
			r.remove(entry.Name)
			recordReconcileOp("recreate")
		}
		conn := newConnection(entry)
		r.registry.Upsert(conn)
		pending = append(pending, conn)
	}

	r.openAll(pending)
}

// openAll connects new connections concurrently. Failures are recorded on
// each connection, not returned.
func (r *Reconciler) openAll(conns []*Connection) {
	var g errgroup.Group
	g.SetLimit(maxParallelConnects)
	for _, conn := range conns {
		g.Go(func() error {
			if err := r.connector.open(conn); err != nil {
				r.logger.Warn("failed to connect to MCP server", "server", conn.Name(), "error", errorText(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// connect creates, registers and opens a single connection. The caller
// holds the guard.
func (r *Reconciler) connect(entry ServerEntry) (*Connection, error) {
	conn := newConnection(entry)
	r.registry.Upsert(conn)
	return conn, r.connector.open(conn)
}

// remove closes and drops one connection. The caller holds the guard.
func (r *Reconciler) remove(name string) {
	conn, err := r.registry.Remove(name)
	if conn == nil {
		return
	}
	if err != nil {
		r.logger.Warn("error closing MCP server", "server", name, "error", err)
	}
	r.events.EmitRemoved(conn)
}

// rebuildArtifactWatches drops every artifact watch and re-adds one for
// each valid desired server whose args reference a build artifact.
func (r *Reconciler) rebuildArtifactWatches(desired DesiredState) {
	if r.artifacts == nil {
		return
	}
	r.artifacts.UnwatchAll()
	for _, entry := range desired {
		if entry.Err != nil {
			continue
		}
		if err := r.artifacts.Watch(entry.Name, entry.Config.Args); err != nil {
			r.logger.Warn("failed to watch build artifact", "server", entry.Name, "error", err)
		}
	}
}

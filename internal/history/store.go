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

// Package history keeps MCP server lifecycle events in a SQLite database so
// that connects, crashes and restarts can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "modernc.org/sqlite"

	"github.com/tombee/mcphub/internal/mcp"
)

const (
	// DefaultRetention is how long events are kept.
	DefaultRetention = 30 * 24 * time.Hour

	queueSize = 1024

	// timeFmt is fixed width so stored timestamps sort as strings.
	timeFmt = "2006-01-02T15:04:05.000000000Z"
)

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mcphub_history_events_dropped_total",
	Help: "Server events not written to the history database because the write queue was full",
})

// Compile-time interface assertion.
var _ mcp.EventRecorder = (*Store)(nil)

// Config configures a Store.
type Config struct {
	// Path is the database file path.
	Path string

	// Retention drops older events when the store opens (default 30 days,
	// negative keeps everything).
	Retention time.Duration

	// ReadOnly opens the store for queries only; Record is a no-op.
	ReadOnly bool

	Logger *slog.Logger
}

// Filter selects events for Query.
type Filter struct {
	Server string
	Type   mcp.EventType
	Since  time.Time
	Limit  int
}

type item struct {
	event mcp.ServerEvent
	flush chan struct{}
}

// Store writes events on a background goroutine so that Record never waits
// on disk.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	queue     chan item
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// Open opens or creates the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite serializes writes
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: logger.With("component", "history"),
		queue:  make(chan item, queueSize),
		done:   make(chan struct{}),
	}

	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run history migrations: %w", err)
	}

	if !cfg.ReadOnly {
		retention := cfg.Retention
		if retention == 0 {
			retention = DefaultRetention
		}
		if retention > 0 {
			if _, err := s.Prune(ctx, time.Now().Add(-retention)); err != nil {
				s.logger.Warn("failed to prune history", "error", err)
			}
		}
		go s.writeLoop()
	} else {
		close(s.done)
		s.closed = true
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range []string{
		`CREATE TABLE IF NOT EXISTS server_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			type TEXT NOT NULL,
			connection_id TEXT,
			message TEXT,
			details TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_server ON server_events(server)`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_created_at ON server_events(created_at)`,
	} {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Record queues event for writing. When the queue is full the event is
// dropped and counted.
func (s *Store) Record(event mcp.ServerEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- item{event: event}:
	default:
		eventsDropped.Inc()
	}
}

// Flush waits until every event recorded so far is written.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	done := make(chan struct{})
	select {
	case s.queue <- item{flush: done}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for it := range s.queue {
		if it.flush != nil {
			close(it.flush)
			continue
		}
		if err := s.insert(context.Background(), it.event); err != nil {
			s.logger.Warn("failed to record server event", "server", it.event.ServerName, "error", err)
		}
	}
}

func (s *Store) insert(ctx context.Context, e mcp.ServerEvent) error {
	var details any
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode details: %w", err)
		}
		details = string(data)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_events (server, type, connection_id, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ServerName, string(e.Type), nullString(e.ConnectionID), nullString(e.Message), details,
		ts.UTC().Format(timeFmt),
	)
	return err
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]mcp.ServerEvent, error) {
	query := `SELECT server, type, connection_id, message, details, created_at
		FROM server_events WHERE 1=1`
	args := []any{}

	if filter.Server != "" {
		query += " AND server = ?"
		args = append(args, filter.Server)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(timeFmt))
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	events := []mcp.ServerEvent{}
	for rows.Next() {
		var (
			e                             mcp.ServerEvent
			eventType, createdAt          string
			connectionID, message, detail sql.NullString
		)
		if err := rows.Scan(&e.ServerName, &eventType, &connectionID, &message, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = mcp.EventType(eventType)
		e.ConnectionID = connectionID.String
		e.Message = message.String
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &e.Details)
		}
		e.Timestamp, _ = time.Parse(timeFmt, createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM server_events WHERE created_at < ?", before.UTC().Format(timeFmt))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close writes queued events and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.queue)
		}
		s.mu.Unlock()
		<-s.done
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

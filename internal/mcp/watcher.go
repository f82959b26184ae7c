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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// DefaultArtifactPatterns match the entry point of a locally built server.
var DefaultArtifactPatterns = []string{"**/build/index.js"}

// ArtifactWatcher restarts servers whose build output changes. A server is
// watched when one of its args matches an artifact pattern. The artifact's
// directory is watched so that rebuilds that replace the file are seen.
type ArtifactWatcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	// restart is called once per debounced change
	restart func(ctx context.Context, serverName string) error

	logger        *slog.Logger
	debounceDelay time.Duration
	minInterval   time.Duration
	patterns      []string

	// artifacts maps server names to the absolute artifact paths they run
	artifacts map[string][]string

	// dirs counts how many artifacts are watched in each directory
	dirs map[string]int

	// pendingRestarts tracks servers with pending debounced restarts
	pendingRestarts map[string]*time.Timer

	// limiters bound how often each server is restarted
	limiters map[string]*rate.Limiter

	// mu protects the maps above
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ArtifactWatcherConfig configures the artifact watcher.
type ArtifactWatcherConfig struct {
	// Restart restarts one server (required)
	Restart func(ctx context.Context, serverName string) error

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay is the quiet period before restarting (defaults to 200ms)
	DebounceDelay time.Duration

	// MinRestartInterval is the minimum time between restarts of one server (defaults to 2s)
	MinRestartInterval time.Duration

	// Patterns are doublestar patterns matched against server args
	// (defaults to DefaultArtifactPatterns)
	Patterns []string
}

// NewArtifactWatcher creates a watcher. It watches nothing until Watch is called.
func NewArtifactWatcher(cfg ArtifactWatcherConfig) (*ArtifactWatcher, error) {
	if cfg.Restart == nil {
		return nil, fmt.Errorf("restart func is required")
	}

	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultArtifactPatterns
	}
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid artifact pattern %q", pattern)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}
	minInterval := cfg.MinRestartInterval
	if minInterval == 0 {
		minInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &ArtifactWatcher{
		fsWatcher:       fsWatcher,
		restart:         cfg.Restart,
		logger:          logger.With("component", "artifact-watcher"),
		debounceDelay:   debounceDelay,
		minInterval:     minInterval,
		patterns:        patterns,
		artifacts:       make(map[string][]string),
		dirs:            make(map[string]int),
		pendingRestarts: make(map[string]*time.Timer),
		limiters:        make(map[string]*rate.Limiter),
		ctx:             ctx,
		cancel:          cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// ArtifactPaths returns the args that match an artifact pattern, as absolute paths.
func (w *ArtifactWatcher) ArtifactPaths(args []string) []string {
	var paths []string
	for _, arg := range args {
		if !w.isArtifact(arg) {
			continue
		}
		absPath, err := filepath.Abs(arg)
		if err != nil {
			continue
		}
		paths = append(paths, absPath)
	}
	return paths
}

func (w *ArtifactWatcher) isArtifact(arg string) bool {
	candidate := strings.TrimPrefix(filepath.ToSlash(arg), "/")
	for _, pattern := range w.patterns {
		if matched, _ := doublestar.Match(pattern, candidate); matched {
			return true
		}
	}
	return false
}

// Watch starts watching the build artifacts referenced by a server's args.
// Servers without artifact args are ignored.
func (w *ArtifactWatcher) Watch(serverName string, args []string) error {
	paths := w.ArtifactPaths(args)
	if len(paths) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.unwatchLocked(serverName)

	var watched []string
	for _, path := range paths {
		dir := filepath.Dir(path)
		if w.dirs[dir] == 0 {
			if err := w.fsWatcher.Add(dir); err != nil {
				w.artifacts[serverName] = watched
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
		}
		w.dirs[dir]++
		watched = append(watched, path)

		w.logger.Debug("watching build artifact", "server", serverName, "path", path)
	}
	w.artifacts[serverName] = watched
	if _, ok := w.limiters[serverName]; !ok {
		w.limiters[serverName] = rate.NewLimiter(rate.Every(w.minInterval), 1)
	}
	return nil
}

// Unwatch stops watching a server's artifacts.
func (w *ArtifactWatcher) Unwatch(serverName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatchLocked(serverName)
}

// UnwatchAll stops watching every artifact.
func (w *ArtifactWatcher) UnwatchAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for serverName := range w.artifacts {
		w.unwatchLocked(serverName)
	}
}

// Watched returns the artifact paths watched for a server.
func (w *ArtifactWatcher) Watched(serverName string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.artifacts[serverName]...)
}

func (w *ArtifactWatcher) unwatchLocked(serverName string) {
	for _, path := range w.artifacts[serverName] {
		dir := filepath.Dir(path)
		w.dirs[dir]--
		if w.dirs[dir] <= 0 {
			delete(w.dirs, dir)
			_ = w.fsWatcher.Remove(dir)
		}
	}
	delete(w.artifacts, serverName)

	if timer, exists := w.pendingRestarts[serverName]; exists {
		timer.Stop()
		delete(w.pendingRestarts, serverName)
	}
}

// processEvents processes filesystem events and schedules restarts.
func (w *ArtifactWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.handleFileChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// handleFileChange schedules a debounced restart for every server running
// the changed artifact.
func (w *ArtifactWatcher) handleFileChange(changedPath string) {
	absPath, err := filepath.Abs(changedPath)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for serverName, paths := range w.artifacts {
		for _, path := range paths {
			if path != absPath {
				continue
			}
			w.logger.Info("build artifact changed", "server", serverName, "file", absPath)
			w.scheduleRestartLocked(serverName)
			break
		}
	}
}

func (w *ArtifactWatcher) scheduleRestartLocked(serverName string) {
	if timer, exists := w.pendingRestarts[serverName]; exists {
		timer.Stop()
	}
	w.pendingRestarts[serverName] = time.AfterFunc(w.debounceDelay, func() {
		w.triggerRestart(serverName)
	})
}

// triggerRestart restarts a server unless it was restarted too recently.
func (w *ArtifactWatcher) triggerRestart(serverName string) {
	w.mu.Lock()
	delete(w.pendingRestarts, serverName)
	limiter := w.limiters[serverName]
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	if limiter != nil && !limiter.Allow() {
		w.logger.Info("skipping restart, server restarted too recently", "server", serverName)
		recordArtifactRestart(serverName, "rate_limited")
		return
	}

	w.logger.Info("restarting mcp server after build artifact change", "server", serverName)
	if err := w.restart(w.ctx, serverName); err != nil {
		recordArtifactRestart(serverName, "failed")
		w.logger.Error("failed to restart mcp server",
			"server", serverName,
			"error", errorText(err),
		)
		return
	}
	recordArtifactRestart(serverName, "ok")
}

// Close shuts down the watcher.
func (w *ArtifactWatcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for _, timer := range w.pendingRestarts {
		timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}

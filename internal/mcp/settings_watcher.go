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
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SettingsWatcher calls OnChange after the settings file is saved. It
// watches the file's directory so that editors which save by renaming a
// temp file over the original are seen.
type SettingsWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func(ctx context.Context)
	logger    *slog.Logger
	delay     time.Duration

	mu    sync.Mutex
	timer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SettingsWatcherConfig configures the settings watcher.
type SettingsWatcherConfig struct {
	// Path is the settings file (required)
	Path string

	// OnChange runs after the debounce delay (required)
	OnChange func(ctx context.Context)

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay coalesces bursts of writes (defaults to 200ms)
	DebounceDelay time.Duration
}

// NewSettingsWatcher starts watching the settings file.
func NewSettingsWatcher(cfg SettingsWatcherConfig) (*SettingsWatcher, error) {
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change handler is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.DebounceDelay
	if delay == 0 {
		delay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &SettingsWatcher{
		fsWatcher: fsWatcher,
		path:      path,
		onChange:  cfg.OnChange,
		logger:    logger.With("component", "settings-watcher"),
		delay:     delay,
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	w.logger.Debug("watching settings file", "path", path)
	return w, nil
}

func (w *SettingsWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
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

func (w *SettingsWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Debug("settings file changed", "path", w.path)
		w.onChange(w.ctx)
	})
}

// Close stops the watcher. A change handler already running is not waited for.
func (w *SettingsWatcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}

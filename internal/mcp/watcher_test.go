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
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// restartRecorder counts restarts per server.
type restartRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *restartRecorder) restart(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[name]++
	return nil
}

func (r *restartRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func writeArtifact(t *testing.T, dir, content string) string {
	t.Helper()
	buildDir := filepath.Join(dir, "build")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	path := filepath.Join(buildDir, "index.js")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestArtifactWatcher_ArtifactPaths(t *testing.T) {
	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart: (&restartRecorder{}).restart,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	defer w.Close()

	paths := w.ArtifactPaths([]string{"--stdio", "/srv/weather/build/index.js", "build/index.js", "dist/index.js"})
	require.Len(t, paths, 2)
	assert.Equal(t, "/srv/weather/build/index.js", paths[0])
	assert.True(t, filepath.IsAbs(paths[1]))
	assert.Equal(t, filepath.Join("build", "index.js"), filepath.Join(filepath.Base(filepath.Dir(paths[1])), filepath.Base(paths[1])))

	assert.Empty(t, w.ArtifactPaths([]string{"-y", "@modelcontextprotocol/server-github"}))
}

func TestArtifactWatcher_CustomPatterns(t *testing.T) {
	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart:  (&restartRecorder{}).restart,
		Logger:   quietLogger(),
		Patterns: []string{"**/dist/*.js"},
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Len(t, w.ArtifactPaths([]string{"/x/dist/server.js", "/x/build/index.js"}), 1)

	_, err = NewArtifactWatcher(ArtifactWatcherConfig{
		Restart:  (&restartRecorder{}).restart,
		Patterns: []string{"[unterminated"},
	})
	assert.Error(t, err)
}

func TestArtifactWatcher_RestartsOnChange(t *testing.T) {
	artifact := writeArtifact(t, t.TempDir(), "// v1")
	recorder := &restartRecorder{}

	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart:            recorder.restart,
		Logger:             quietLogger(),
		DebounceDelay:      20 * time.Millisecond,
		MinRestartInterval: time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch("weather", []string{artifact}))
	assert.Equal(t, []string{artifact}, w.Watched("weather"))

	// A burst of writes is one restart.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(artifact, []byte("// v2"), 0644))
	}

	require.Eventually(t, func() bool {
		return recorder.count("weather") == 1
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, recorder.count("weather"))
}

func TestArtifactWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, "// v1")
	recorder := &restartRecorder{}

	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart:       recorder.restart,
		Logger:        quietLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch("weather", []string{artifact}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "build", "index.js.map"), []byte("{}"), 0644))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, recorder.count("weather"))
}

func TestArtifactWatcher_RateLimited(t *testing.T) {
	artifact := writeArtifact(t, t.TempDir(), "// v1")
	recorder := &restartRecorder{}

	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart:            recorder.restart,
		Logger:             quietLogger(),
		DebounceDelay:      10 * time.Millisecond,
		MinRestartInterval: time.Hour,
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch("limited", []string{artifact}))

	before := testutil.ToFloat64(hubArtifactRestarts.WithLabelValues("limited", "rate_limited"))

	require.NoError(t, os.WriteFile(artifact, []byte("// v2"), 0644))
	require.Eventually(t, func() bool { return recorder.count("limited") == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(artifact, []byte("// v3"), 0644))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(hubArtifactRestarts.WithLabelValues("limited", "rate_limited")) == before+1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, recorder.count("limited"))
	assert.Equal(t, float64(1), testutil.ToFloat64(hubArtifactRestarts.WithLabelValues("limited", "ok")))
}

func TestArtifactWatcher_UnwatchAll(t *testing.T) {
	dir := t.TempDir()
	first := writeArtifact(t, filepath.Join(dir, "one"), "// v1")
	second := writeArtifact(t, filepath.Join(dir, "two"), "// v1")
	recorder := &restartRecorder{}

	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart:       recorder.restart,
		Logger:        quietLogger(),
		DebounceDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch("one", []string{first}))
	require.NoError(t, w.Watch("two", []string{second}))
	require.NoError(t, w.Watch("shared", []string{first}))

	w.Unwatch("one")
	require.NoError(t, os.WriteFile(first, []byte("// v2"), 0644))
	require.Eventually(t, func() bool { return recorder.count("shared") == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, recorder.count("one"))

	w.UnwatchAll()
	assert.Empty(t, w.Watched("two"))
	require.NoError(t, os.WriteFile(second, []byte("// v2"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, recorder.count("two"))
}

func TestArtifactWatcher_MissingDirectory(t *testing.T) {
	w, err := NewArtifactWatcher(ArtifactWatcherConfig{
		Restart: (&restartRecorder{}).restart,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	defer w.Close()

	err = w.Watch("ghost", []string{filepath.Join(t.TempDir(), "missing", "build", "index.js")})
	assert.Error(t, err)
	assert.NoError(t, w.Watch("plain", []string{"-y", "some-package"}))
}

func TestSettingsWatcher_DebouncesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {}}`), 0600))

	var changes atomic.Int32
	w, err := NewSettingsWatcher(SettingsWatcherConfig{
		Path:          path,
		OnChange:      func(context.Context) { changes.Add(1) },
		Logger:        quietLogger(),
		DebounceDelay: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"a": {"command": "x"}}}`), 0600))
	}
	require.Eventually(t, func() bool { return changes.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte(`{}`), 0600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), changes.Load())
}

func TestSettingsWatcher_SeesAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	store := NewFileSettingsStore(path)
	require.NoError(t, store.EnsureExists())

	var changes atomic.Int32
	w, err := NewSettingsWatcher(SettingsWatcherConfig{
		Path:          path,
		OnChange:      func(context.Context) { changes.Add(1) },
		Logger:        quietLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	settings, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(settings))

	require.Eventually(t, func() bool { return changes.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestSettingsWatcher_CloseStopsCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {}}`), 0600))

	var changes atomic.Int32
	w, err := NewSettingsWatcher(SettingsWatcherConfig{
		Path:          path,
		OnChange:      func(context.Context) { changes.Add(1) },
		Logger:        quietLogger(),
		DebounceDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"x": {"command": "y"}}}`), 0600))
	require.NoError(t, w.Close())

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, changes.Load())
}

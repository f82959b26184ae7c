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

// Package config locates the mcphub settings file and state.
package config

import (
	"os"
	"path/filepath"
)

const (
	// AppName is the directory name used under the XDG config home.
	AppName = "mcphub"

	// SettingsFileName is the settings document file name.
	SettingsFileName = "mcp_settings.json"

	// SettingsEnv overrides the settings path.
	SettingsEnv = "MCPHUB_SETTINGS"

	// HistoryFileName is the server event history database.
	HistoryFileName = "history.db"

	// HistoryEnv overrides the history database path.
	HistoryEnv = "MCPHUB_HISTORY"
)

// ConfigDir returns the XDG config directory for mcphub.
// On Unix and macOS: ~/.config/mcphub
// Respects XDG_CONFIG_HOME environment variable
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		// macOS also uses ~/.config to follow XDG
		base = filepath.Join(home, ".config")
	}

	configDir := filepath.Join(base, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return configDir, nil
}

// SettingsPath resolves the settings file path. An explicit path (from
// the --settings flag) wins, then MCPHUB_SETTINGS, then the XDG default.
// The returned path is absolute.
func SettingsPath(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(SettingsEnv)
	}
	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, SettingsFileName), nil
	}
	return filepath.Abs(path)
}

// StateDir returns the XDG state directory for mcphub, ~/.local/state/mcphub
// unless XDG_STATE_HOME is set.
func StateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}

	dir := filepath.Join(base, AppName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// HistoryPath resolves the history database path the same way as
// SettingsPath: explicit, then MCPHUB_HISTORY, then the state directory.
func HistoryPath(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(HistoryEnv)
	}
	if path == "" {
		dir, err := StateDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, HistoryFileName), nil
	}
	return filepath.Abs(path)
}

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

package shared

import (
	"github.com/spf13/pflag"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var (
	settingsFlag  string
	outputFlag    = OutputTable
	jqFlag        string
	logLevelFlag  string
	logFormatFlag string
	traceFlag     string
	quietFlag     bool

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterGlobalFlags adds the flags every command understands.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&settingsFlag, "settings", "", "Path to the settings file (default: $MCPHUB_SETTINGS or ~/.config/mcphub/mcp_settings.json)")
	fs.StringVarP(&outputFlag, "output", "o", OutputTable, "Output format: table, json or yaml")
	fs.StringVar(&jqFlag, "jq", "", "Filter JSON output with a jq expression")
	fs.StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn or error")
	fs.StringVar(&logFormatFlag, "log-format", "", "Log format: json or text")
	fs.StringVar(&traceFlag, "trace", "", "Trace exporter: stdout, otlp or otlp-http")
	fs.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress informational messages")
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

func GetSettingsPath() string {
	return settingsFlag
}

func GetOutput() string {
	return outputFlag
}

func GetJQ() string {
	return jqFlag
}

func GetLogLevel() string {
	return logLevelFlag
}

func GetLogFormat() string {
	return logFormatFlag
}

func GetTrace() string {
	return traceFlag
}

func GetQuiet() bool {
	return quietFlag
}

// ResetFlagsForTest restores every global flag to its default.
func ResetFlagsForTest() {
	settingsFlag = ""
	outputFlag = OutputTable
	jqFlag = ""
	logLevelFlag = ""
	logFormatFlag = ""
	traceFlag = ""
	quietFlag = false
}

// SetSettingsPathForTest points commands at a settings file.
func SetSettingsPathForTest(path string) {
	settingsFlag = path
}

// SetOutputForTest selects the output format.
func SetOutputForTest(format string) {
	outputFlag = format
}

// SetJQForTest sets the jq filter.
func SetJQForTest(expression string) {
	jqFlag = expression
}

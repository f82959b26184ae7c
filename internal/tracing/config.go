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

package tracing

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone     = ""
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
)

// Config holds observability configuration.
type Config struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporter selects the span destination (none, stdout, otlp, otlp-http).
	Exporter string

	// Endpoint is the collector address for the OTLP exporters.
	Endpoint string

	// Insecure disables TLS for the OTLP exporters (for development only).
	Insecure bool

	// Headers contains custom headers to send with each export request.
	Headers map[string]string

	// Writer is the stdout exporter destination (default: os.Stdout).
	Writer io.Writer

	// SampleRate is the fraction of traces to sample (0.0 - 1.0).
	// Zero means sample everything.
	SampleRate float64

	// AlwaysSampleErrors samples all spans marked as errors.
	AlwaysSampleErrors bool

	// Registerer receives the OpenTelemetry metric bridge
	// (default: prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer
}

// DefaultConfig returns a Config that records nothing to an exporter.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "mcphub",
		ServiceVersion:     "dev",
		AlwaysSampleErrors: true,
	}
}

// ParseExporter normalizes an exporter name from a flag value.
func ParseExporter(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off":
		return ExporterNone, nil
	case "stdout", "console":
		return ExporterStdout, nil
	case "otlp", "otlp-grpc", "grpc":
		return ExporterOTLP, nil
	case "otlp-http", "http":
		return ExporterOTLPHTTP, nil
	default:
		return "", fmt.Errorf("unknown trace exporter %q (want none, stdout, otlp or otlp-http)", name)
	}
}

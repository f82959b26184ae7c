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

// Package tracing installs the OpenTelemetry providers used by mcphub.
//
// Spans are created by internal/mcp through the global tracer. This package
// decides where they go: nowhere, stdout, or an OTLP collector over gRPC or
// HTTP. It also bridges OpenTelemetry metrics into the Prometheus registry
// so that everything is served from the same /metrics endpoint.
package tracing

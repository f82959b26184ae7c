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
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/tombee/mcphub/internal/jq"
)

// Printer renders command results in the format chosen by --output,
// optionally filtered by --jq.
type Printer struct {
	out    io.Writer
	format string
	filter *jq.Filter
}

// NewPrinter creates a printer from the global flags.
func NewPrinter(out io.Writer) (*Printer, error) {
	format := GetOutput()
	switch format {
	case OutputTable, OutputJSON, OutputYAML:
	case "":
		format = OutputTable
	default:
		return nil, NewUsageError(fmt.Sprintf("invalid output format: %s (must be table, json or yaml)", format), nil)
	}

	filter, err := jq.Compile(GetJQ())
	if err != nil {
		return nil, NewUsageError("invalid --jq expression", err)
	}
	return &Printer{out: out, format: format, filter: filter}, nil
}

// Structured reports whether output is machine readable.
func (p *Printer) Structured() bool {
	return p.format != OutputTable || p.filter != nil
}

// Print writes v. In table mode renderTable draws the human view; a jq
// filter always forces structured output, JSON unless yaml was asked for.
func (p *Printer) Print(ctx context.Context, v any, renderTable func(w io.Writer) error) error {
	if p.filter != nil {
		results, err := p.filter.Run(ctx, v)
		if err != nil {
			return NewUsageError("jq filter failed", err)
		}
		for _, r := range results {
			if err := p.encode(r, p.format == OutputYAML); err != nil {
				return err
			}
		}
		return nil
	}

	switch {
	case p.format == OutputTable && renderTable != nil:
		return renderTable(p.out)
	case p.format == OutputYAML:
		return p.encode(v, true)
	default:
		return p.encode(v, false)
	}
}

func (p *Printer) encode(v any, asYAML bool) error {
	if !asYAML {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	// Round trip through JSON so that json tags name the YAML keys
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// RenderTable draws rows under headers.
func RenderTable(w io.Writer, headers []string, rows [][]string) error {
	cell := lipgloss.NewStyle().PaddingRight(2)
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Header.PaddingRight(2)
			}
			return cell
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

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

// Package format renders MCP tool and resource content for a terminal.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"

	"github.com/tombee/mcphub/internal/mcp"
)

const (
	maxJSONSize     = 10 * 1024 * 1024 // 10MB
	maxMarkdownSize = 5 * 1024 * 1024  // 5MB
	maxCodeSize     = 2 * 1024 * 1024  // 2MB
)

// ansiEscapeRegex matches ANSI escape sequences.
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// sanitizeANSI removes escape sequences a server embedded in its output.
func sanitizeANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// FormatMarkdown renders markdown with ANSI formatting if stdout is a TTY.
// Content too large to render, or that glamour rejects, is returned as is.
func FormatMarkdown(content string, isTTY bool) string {
	content = sanitizeANSI(content)
	if !isTTY || len(content) > maxMarkdownSize {
		return content
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// FormatJSON pretty-prints JSON with 2-space indentation.
func FormatJSON(content string) (string, error) {
	if len(content) > maxJSONSize {
		return "", fmt.Errorf("output size (%d bytes) exceeds maximum for json format (%d bytes)", len(content), maxJSONSize)
	}

	var obj any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	formatted, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	return sanitizeANSI(string(formatted)), nil
}

// FormatCode applies syntax highlighting for language if stdout is a TTY.
// language may be a lexer name, alias or file extension.
func FormatCode(content, language string, isTTY bool) string {
	content = sanitizeANSI(content)
	if !isTTY || language == "" || len(content) > maxCodeSize {
		return content
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, content, language, "terminal256", "monokai"); err != nil {
		return content
	}
	return buf.String()
}

// Content renders one item of a tool result.
func Content(item mcp.ContentItem, isTTY bool) string {
	switch item.Type {
	case "text":
		if looksLikeJSON(item.Text) {
			if formatted, err := FormatJSON(item.Text); err == nil {
				return FormatCode(formatted, "json", isTTY)
			}
		}
		return FormatMarkdown(item.Text, isTTY)
	case "resource":
		if item.Resource != nil {
			return Resource(*item.Resource, isTTY)
		}
		return ""
	default:
		return binarySummary(item.Type, item.MimeType, item.Data)
	}
}

// Resource renders resource contents by MIME type, falling back to the
// URI's extension to pick a highlighter.
func Resource(c mcp.ResourceContent, isTTY bool) string {
	if c.Blob != "" {
		return binarySummary("blob", c.MimeType, c.Blob)
	}

	mediaType, _, _ := mime.ParseMediaType(c.MimeType)
	switch {
	case mediaType == "text/markdown":
		return FormatMarkdown(c.Text, isTTY)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if formatted, err := FormatJSON(c.Text); err == nil {
			return FormatCode(formatted, "json", isTTY)
		}
	}

	ext := strings.TrimPrefix(path.Ext(c.URI), ".")
	if ext == "md" {
		return FormatMarkdown(c.Text, isTTY)
	}
	return FormatCode(c.Text, ext, isTTY)
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) > 1 && (s[0] == '{' && s[len(s)-1] == '}' || s[0] == '[' && s[len(s)-1] == ']')
}

func binarySummary(kind, mimeType, data string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	// base64 expands by 4/3
	return fmt.Sprintf("[%s %s, %d bytes]", kind, mimeType, len(data)*3/4)
}

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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// defaultCloseTimeout bounds a graceful shutdown before the process is killed.
	defaultCloseTimeout = 5 * time.Second

	// processWaitDelay bounds how long Close waits for the error stream
	// after the process is gone, since a grandchild may still hold it.
	processWaitDelay = 2 * time.Second

	// handshakeDrainDelay bounds the wait for the error stream to end after
	// a failed handshake.
	handshakeDrainDelay = 500 * time.Millisecond
)

// StdioTransport runs an MCP server as a child process speaking JSON-RPC
// over stdin/stdout. The error stream is consumed line by line. The channel
// closes when the process exits or stdout ends.
type StdioTransport struct {
	name     string
	config   ServerConfig
	handlers TransportHandlers

	client *client.Client
	stdout *os.File

	// cancelProc kills the process through exec.CommandContext.
	cancelProc context.CancelFunc

	closeTimeout time.Duration
	expandEnv    EnvExpander

	// exited is closed once Wait returns; waitErr is set before.
	exited  chan struct{}
	waitErr error

	// closed is closed when the process exits or stdout ends.
	closed     chan struct{}
	stderrDone chan struct{}
	closing    atomic.Bool
	closeOnce  sync.Once
	notifyOnce sync.Once
	started    atomic.Bool
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithCloseTimeout overrides how long Close waits before killing the process.
func WithCloseTimeout(d time.Duration) StdioOption {
	return func(t *StdioTransport) {
		t.closeTimeout = d
	}
}

// EnvExpander rewrites one env value before launch, e.g. to resolve a
// secret reference. It must return the value unchanged when it has nothing
// to do.
type EnvExpander func(ctx context.Context, value string) (string, error)

// WithEnvExpander resolves env values through fn at launch.
func WithEnvExpander(fn EnvExpander) StdioOption {
	return func(t *StdioTransport) {
		t.expandEnv = fn
	}
}

// NewStdioTransport returns an unstarted stdio transport for a server.
func NewStdioTransport(name string, config ServerConfig, opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		name:         name,
		config:       config,
		closeTimeout: defaultCloseTimeout,
		exited:       make(chan struct{}),
		closed:       make(chan struct{}),
		stderrDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StdioTransportFactory is the TransportFactory for real server processes.
func StdioTransportFactory(name string, config ServerConfig) Transport {
	return NewStdioTransport(name, config)
}

// NewStdioTransportFactory returns a TransportFactory applying opts to every
// transport it creates.
func NewStdioTransportFactory(opts ...StdioOption) TransportFactory {
	return func(name string, config ServerConfig) Transport {
		return NewStdioTransport(name, config, opts...)
	}
}

// Start launches the process and begins reading its output streams.
func (t *StdioTransport) Start(ctx context.Context, handlers TransportHandlers) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport for %s already started", t.name)
	}
	t.handlers = handlers

	env, err := t.environ(ctx)
	if err != nil {
		t.launchFailed()
		return ErrLaunchFailed(t.name, err)
	}

	child, parent, err := openPipes()
	if err != nil {
		t.launchFailed()
		return ErrLaunchFailed(t.name, err)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, t.config.Command, t.config.Args...)
	cmd.Env = env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = child[0], child[1], child[2]
	if err := cmd.Start(); err != nil {
		cancel()
		closeFiles(child[:])
		closeFiles(parent[:])
		t.launchFailed()
		return ErrLaunchFailed(t.name, err)
	}
	closeFiles(child[:])

	t.cancelProc = cancel
	t.stdout = parent[1]
	go t.wait(cmd)
	go t.readStderr(parent[2])

	stdout := &endReader{r: parent[1], onEnd: t.stdoutEnded}
	t.client = client.NewClient(transport.NewIO(stdout, parent[0], parent[2]))
	if err := t.client.Start(procCtx); err != nil {
		t.closing.Store(true)
		cancel()
		closeFiles(parent[:])
		<-t.exited
		t.client = nil
		return ErrLaunchFailed(t.name, err)
	}
	return nil
}

// openPipes returns the child and parent ends of stdin, stdout and stderr.
// Plain files keep exec from copying, so Wait returns when the process
// exits even if a grandchild still holds a stream.
func openPipes() (child, parent [3]*os.File, err error) {
	for i := range 3 {
		r, w, pipeErr := os.Pipe()
		if pipeErr != nil {
			closeFiles(child[:])
			closeFiles(parent[:])
			return child, parent, pipeErr
		}
		if i == 0 {
			child[i], parent[i] = r, w
		} else {
			child[i], parent[i] = w, r
		}
	}
	return child, parent, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

func (t *StdioTransport) launchFailed() {
	close(t.stderrDone)
	close(t.exited)
	t.markClosed()
}

// environ builds the child environment, expanding values when configured.
// Errors name the variable, never its value.
func (t *StdioTransport) environ(ctx context.Context) ([]string, error) {
	cfg := t.config
	if t.expandEnv != nil && len(cfg.Env) > 0 {
		expanded := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			resolved, err := t.expandEnv(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("env %s: %w", k, err)
			}
			expanded[k] = resolved
		}
		cfg.Env = expanded
	}
	return cfg.Environ(os.Getenv("PATH")), nil
}

// wait reaps the process. Its exit closes the channel.
func (t *StdioTransport) wait(cmd *exec.Cmd) {
	t.waitErr = cmd.Wait()
	close(t.exited)
	t.channelClosed(nil)
}

// stdoutEnded closes the channel when the server stops writing responses.
func (t *StdioTransport) stdoutEnded(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		err = nil
	}
	t.channelClosed(err)
}

// readStderr forwards error-stream lines until the stream ends. A server
// may close its error stream and keep serving, so the end is not a close
// signal.
func (t *StdioTransport) readStderr(r io.Reader) {
	defer close(t.stderrDone)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" && !t.closing.Load() && t.handlers.OnStderr != nil {
			t.handlers.OnStderr(line)
		}
		if err != nil {
			return
		}
	}
}

// channelClosed marks the channel closed and notifies the owner once,
// unless the owner is the one closing it.
func (t *StdioTransport) channelClosed(err error) {
	t.markClosed()
	t.notifyOnce.Do(func() {
		go t.notifyClosed(err)
	})
}

func (t *StdioTransport) notifyClosed(err error) {
	// Crash output written just before exit is delivered first.
	select {
	case <-t.stderrDone:
	case <-time.After(handshakeDrainDelay):
	}
	if t.closing.Load() {
		return
	}
	if err != nil && t.handlers.OnError != nil {
		t.handlers.OnError(ErrTransport(t.name, err))
	}
	if t.handlers.OnClose != nil {
		t.handlers.OnClose()
	}
}

func (t *StdioTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// endReader reports the first read error of the wrapped stream.
type endReader struct {
	r     io.Reader
	onEnd func(error)
	once  sync.Once
}

func (e *endReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil {
		e.once.Do(func() { e.onEnd(err) })
	}
	return n, err
}

// Connect performs the initialize handshake. It fails as soon as the
// process exits instead of waiting for ctx.
func (t *StdioTransport) Connect(ctx context.Context, info ClientInfo) error {
	err := t.do(ctx, "initialize", func(ctx context.Context) error {
		_, err := t.client.Initialize(ctx, mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
				Capabilities:    mcp.ClientCapabilities{},
				ClientInfo: mcp.Implementation{
					Name:    info.Name,
					Version: info.Version,
				},
			},
		})
		return err
	})
	if err != nil {
		// A process that died during the handshake has usually said why on
		// stderr; give those lines a moment to arrive.
		select {
		case <-t.stderrDone:
		case <-time.After(handshakeDrainDelay):
		}
		return ErrHandshakeFailed(t.name, err)
	}
	return nil
}

// do runs one request, cancelling it when the channel closes.
func (t *StdioTransport) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	select {
	case <-t.closed:
		return ErrConnectionClosed(t.name)
	default:
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-t.closed:
			cancel(errConnectionClosed)
		case <-reqCtx.Done():
		}
	}()

	err := fn(reqCtx)
	if err == nil {
		return nil
	}
	if errors.Is(context.Cause(reqCtx), errConnectionClosed) {
		return ErrConnectionClosed(t.name)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", method, ctxErr)
	}
	return ErrProtocol(t.name, method, err)
}

// ListTools retrieves the list of available tools from the MCP server.
func (t *StdioTransport) ListTools(ctx context.Context) ([]Tool, error) {
	var result *mcp.ListToolsResult
	err := t.do(ctx, "tools/list", func(ctx context.Context) error {
		var err error
		result, err = t.client.ListTools(ctx, mcp.ListToolsRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, tool := range result.Tools {
		// Use RawInputSchema if available, otherwise marshal InputSchema
		schema := tool.RawInputSchema
		if len(schema) == 0 {
			if schema, err = json.Marshal(tool.InputSchema); err != nil {
				return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
			}
		}
		tools = append(tools, Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// ListResources retrieves the list of available resources from the MCP server.
func (t *StdioTransport) ListResources(ctx context.Context) ([]Resource, error) {
	var result *mcp.ListResourcesResult
	err := t.do(ctx, "resources/list", func(ctx context.Context) error {
		var err error
		result, err = t.client.ListResources(ctx, mcp.ListResourcesRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}

	resources := make([]Resource, len(result.Resources))
	for i, resource := range result.Resources {
		resources[i] = Resource{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MimeType:    resource.MIMEType,
		}
	}
	return resources, nil
}

// ListResourceTemplates retrieves the resource templates from the MCP server.
func (t *StdioTransport) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	var result *mcp.ListResourceTemplatesResult
	err := t.do(ctx, "resources/templates/list", func(ctx context.Context) error {
		var err error
		result, err = t.client.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}

	templates := make([]ResourceTemplate, len(result.ResourceTemplates))
	for i, tmpl := range result.ResourceTemplates {
		templates[i] = ResourceTemplate{
			Name:        tmpl.Name,
			Description: tmpl.Description,
			MimeType:    tmpl.MIMEType,
		}
		if tmpl.URITemplate != nil && tmpl.URITemplate.Template != nil {
			templates[i].URITemplate = tmpl.URITemplate.Raw()
		}
	}
	return templates, nil
}

// ReadResource reads the content of an MCP resource.
func (t *StdioTransport) ReadResource(ctx context.Context, uri string) (*ResourceReadResponse, error) {
	var result *mcp.ReadResourceResult
	err := t.do(ctx, "resources/read", func(ctx context.Context) error {
		var err error
		result, err = t.client.ReadResource(ctx, mcp.ReadResourceRequest{
			Params: mcp.ReadResourceParams{URI: uri},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	response := &ResourceReadResponse{
		Contents: make([]ResourceContent, len(result.Contents)),
	}
	for i, content := range result.Contents {
		response.Contents[i] = convertResourceContents(content)
	}
	return response, nil
}

func convertResourceContents(content mcp.ResourceContents) ResourceContent {
	if text, ok := mcp.AsTextResourceContents(content); ok {
		return ResourceContent{URI: text.URI, MimeType: text.MIMEType, Text: text.Text}
	}
	if blob, ok := mcp.AsBlobResourceContents(content); ok {
		return ResourceContent{URI: blob.URI, MimeType: blob.MIMEType, Blob: blob.Blob}
	}
	return ResourceContent{}
}

// CallTool executes an MCP tool with the given arguments. The caller's
// context carries the timeout.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResponse, error) {
	var result *mcp.CallToolResult
	err := t.do(ctx, "tools/call", func(ctx context.Context) error {
		var err error
		result, err = t.client.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      name,
				Arguments: args,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	response := &ToolCallResponse{
		IsError:           result.IsError,
		StructuredContent: result.StructuredContent,
		Content:           make([]ContentItem, 0, len(result.Content)),
	}
	for _, content := range result.Content {
		item, err := convertContent(content)
		if err != nil {
			return nil, ErrProtocol(t.name, "tools/call", err)
		}
		response.Content = append(response.Content, item)
	}
	return response, nil
}

func convertContent(content mcp.Content) (ContentItem, error) {
	if text, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: text.Type, Text: text.Text}, nil
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType}, nil
	}
	if audio, ok := mcp.AsAudioContent(content); ok {
		return ContentItem{Type: audio.Type, Data: audio.Data, MimeType: audio.MIMEType}, nil
	}
	if embedded, ok := mcp.AsEmbeddedResource(content); ok {
		resource := convertResourceContents(embedded.Resource)
		return ContentItem{Type: embedded.Type, Resource: &resource}, nil
	}

	// Fallback: marshal to JSON to extract fields
	contentBytes, err := json.Marshal(content)
	if err != nil {
		return ContentItem{}, fmt.Errorf("failed to marshal content: %w", err)
	}
	var item ContentItem
	if err := json.Unmarshal(contentBytes, &item); err != nil {
		return ContentItem{}, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	return item, nil
}

// Close stops the process, killing it when it does not exit within the
// close timeout.
func (t *StdioTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	if t.client == nil {
		return nil
	}

	// Closing stdin asks the server to exit.
	err := t.client.Close()

	select {
	case <-t.exited:
	case <-time.After(t.closeTimeout):
		t.cancelProc()
		<-t.exited
	}
	t.cancelProc()
	_ = t.stdout.Close()
	select {
	case <-t.stderrDone:
	case <-time.After(processWaitDelay):
	}

	if err != nil {
		return err
	}
	var exitErr *exec.ExitError
	if t.waitErr == nil || errors.As(t.waitErr, &exitErr) || errors.Is(t.waitErr, context.Canceled) {
		// Exit status after stdin closed or a kill is expected.
		return nil
	}
	return t.waitErr
}

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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

// transportState is the lifecycle state of one Transport instance.
type transportState int

const (
	stateInit transportState = iota
	stateStarting
	stateReady
	stateClosed
)

const (
	defaultSendTimeout  = 30 * time.Second
	stderrDrainWindow   = 500 * time.Millisecond
	stderrDrainMaxBytes = 1024
	closeGracePeriod    = 5 * time.Second
	logBodyHeadBytes    = 250
	logBodyTailBytes    = 250
	logBodyThreshold    = 500

	clientName    = "stepwise"
	clientVersion = "0.1.0"
)

// Transport owns a single MCP server child process and speaks the wire
// protocol through mark3labs/mcp-go's stdio client rather than framing
// JSON-RPC by hand. A Transport serves requests strictly sequentially:
// callers wanting parallelism must create multiple transports, which is
// exactly what the session manager does for every scoped acquisition.
type Transport struct {
	serverName string
	command    string
	args       []string
	env        map[string]string
	logger     *slog.Logger

	mu      sync.Mutex
	state   transportState
	client  *client.Client
	process *os.Process
	stderr  *stderrBuffer
}

// NewTransport constructs a Transport for serverName. It does not start the
// child process; call Start for that.
func NewTransport(serverName, command string, args []string, env map[string]string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		serverName: serverName,
		command:    command,
		args:       args,
		env:        env,
		logger:     logger,
		state:      stateInit,
	}
}

// Start launches the child process via mcp-go's stdio client and runs the
// MCP initialize handshake. If the process exits or the handshake fails,
// Start drains a bounded amount of stderr and fails with TransportStartError.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateInit {
		return fmt.Errorf("transport %s: Start called in state %d", t.serverName, t.state)
	}
	t.state = stateStarting

	c, err := client.NewStdioMCPClient(t.command, flattenEnv(t.env), t.args...)
	if err != nil {
		t.state = stateClosed
		return &conductorerrors.TransportStartError{Server: t.serverName, Cause: err}
	}

	if err := c.Start(ctx); err != nil {
		t.state = stateClosed
		return &conductorerrors.TransportStartError{Server: t.serverName, Cause: err}
	}

	t.client = c
	t.process = extractProcess(c)
	t.stderr = extractStderr(c)
	if t.stderr != nil {
		go t.stderr.pump()
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}

	t.logger.Debug("mcp initialize", "server", t.serverName)
	if _, err := c.Initialize(ctx, initReq); err != nil {
		tail := t.drainStderr()
		t.state = stateClosed
		_ = c.Close()
		return &conductorerrors.TransportStartError{Server: t.serverName, Cause: err, Stderr: tail}
	}

	t.state = stateReady
	return nil
}

// ListTools retrieves the tool names the server advertises.
func (t *Transport) ListTools(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateReady {
		return nil, &conductorerrors.TransportProtocolError{Server: t.serverName, Detail: "transport not ready"}
	}

	result, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, t.classifyCallError(err, "tools/list")
	}

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	return names, nil
}

// CallTool invokes toolName with args and decodes the response content into
// a plain value suitable for the serializability probe.
func (t *Transport) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateReady {
		return nil, &conductorerrors.TransportProtocolError{Server: t.serverName, Detail: "transport not ready"}
	}

	callCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	t.logger.Debug("mcp request", "server", t.serverName, "method", "tools/call", "tool", toolName)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}

	result, err := t.client.CallTool(callCtx, req)
	if err != nil {
		return nil, t.classifyCallError(err, toolName)
	}

	if result.IsError {
		tail := t.drainStderr()
		return nil, &conductorerrors.ToolError{Server: t.serverName, Tool: toolName, Message: contentText(result.Content), StderrTail: tail}
	}

	return decodeToolResult(result.Content), nil
}

// classifyCallError maps an mcp-go client error to this package's taxonomy,
// treating a context deadline as TransportTimeout and anything else as a
// protocol-level fault worth surfacing stderr for.
func (t *Transport) classifyCallError(err error, method string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &conductorerrors.TransportTimeout{Server: t.serverName, Method: method, Timeout: defaultSendTimeout}
	}
	tail := t.drainStderr()
	return &conductorerrors.TransportProtocolError{Server: t.serverName, Detail: fmt.Sprintf("%s: %v (%s)", method, err, tail), Cause: err}
}

func (t *Transport) drainStderr() string {
	if t.stderr == nil {
		return ""
	}
	return t.stderr.drain(stderrDrainWindow, stderrDrainMaxBytes)
}

// Close terminates the child process: the mcp-go client's Close first, then
// a forced kill of the underlying process if it hasn't exited within the
// close grace period. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == stateClosed || t.client == nil {
		t.state = stateClosed
		return nil
	}
	t.state = stateClosed

	done := make(chan error, 1)
	go func() { done <- t.client.Close() }()

	select {
	case <-done:
	case <-time.After(closeGracePeriod):
		if t.process != nil {
			_ = t.process.Kill()
		}
		<-done
	}

	if t.stderr != nil {
		t.stderr.close()
	}
	return nil
}

// extractProcess pulls the underlying OS process out of mcp-go's opaque
// stdio transport via reflection, so Close can force-kill a server that
// ignores graceful shutdown. Returns nil if extraction fails: force-kill is
// a best-effort safety net, never load-bearing for correctness.
func extractProcess(mcpClient *client.Client) *os.Process {
	if mcpClient == nil {
		return nil
	}
	transport := mcpClient.GetTransport()
	if transport == nil {
		return nil
	}

	v := reflect.ValueOf(transport)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	cmdField := v.FieldByName("Cmd")
	if !cmdField.IsValid() || cmdField.IsNil() {
		return nil
	}
	cmdVal := cmdField
	if cmdVal.Kind() == reflect.Ptr {
		cmdVal = cmdVal.Elem()
	}
	processField := cmdVal.FieldByName("Process")
	if !processField.IsValid() || processField.IsNil() {
		return nil
	}
	proc, ok := processField.Interface().(*os.Process)
	if !ok {
		return nil
	}
	return proc
}

// extractStderr pulls the stdio transport's stderr pipe out via reflection so
// it can be wrapped in the package's bounded ring buffer for diagnostics.
// Returns nil if extraction fails: a transport without stderr access still
// works, it just reports less context on failure.
func extractStderr(mcpClient *client.Client) *stderrBuffer {
	if mcpClient == nil {
		return nil
	}
	transport := mcpClient.GetTransport()
	if transport == nil {
		return nil
	}

	v := reflect.ValueOf(transport)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	stderrField := v.FieldByName("Stderr")
	if !stderrField.IsValid() || stderrField.IsNil() {
		return nil
	}
	r, ok := stderrField.Interface().(interface {
		Read([]byte) (int, error)
	})
	if !ok {
		return nil
	}
	return newStderrBuffer(r)
}

// contentText returns the first text fragment of an MCP content slice (the
// convention mcp-go servers use to put a human-readable message on an error
// result), or "tool call failed" when there is none.
func contentText(content []mcp.Content) string {
	for _, c := range content {
		if text, ok := mcp.AsTextContent(c); ok {
			return text.Text
		}
	}
	return "tool call failed"
}

// decodeToolResult converts an MCP content slice into a plain value: a
// single text item is parsed as JSON if possible (falling back to the raw
// string), and anything else is flattened into a slice of maps so the
// result always passes the serializability probe.
func decodeToolResult(content []mcp.Content) any {
	if len(content) == 1 {
		if text, ok := mcp.AsTextContent(content[0]); ok {
			var decoded any
			if err := json.Unmarshal([]byte(text.Text), &decoded); err == nil {
				return decoded
			}
			return text.Text
		}
	}

	items := make([]any, len(content))
	for i, c := range content {
		if text, ok := mcp.AsTextContent(c); ok {
			items[i] = map[string]any{"type": text.Type, "text": text.Text}
			continue
		}
		if image, ok := mcp.AsImageContent(c); ok {
			items[i] = map[string]any{"type": image.Type, "data": image.Data, "mimeType": image.MIMEType}
			continue
		}
		items[i] = fmt.Sprintf("%v", c)
	}
	return items
}

func truncateForLog(body []byte) string {
	if len(body) <= logBodyThreshold {
		return string(body)
	}
	head := body[:logBodyHeadBytes]
	tail := body[len(body)-logBodyTailBytes:]
	return fmt.Sprintf("%s...[truncated]...%s", head, tail)
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

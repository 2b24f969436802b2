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
	"sync"
	"time"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
	"github.com/stepwise/stepwise/pkg/retry"
	"github.com/stepwise/stepwise/pkg/serialize"

	"github.com/google/uuid"
)

// wireTransport is the contract any MCP transport must satisfy to back a
// SessionHandle: the stdio Transport and the remote HTTPTransport both wrap
// mark3labs/mcp-go's client and implement it, so ScopedSession can choose
// between them based on whether a server's descriptor specifies command or
// url. Start is responsible for both connecting and running the MCP
// initialize handshake.
type wireTransport interface {
	Start(ctx context.Context) error
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	Close() error
}

// SessionHandle is the opaque, non-serializable handle returned by a scoped
// acquisition. It carries only an identifier plus a back-reference to its
// owning transport, and that back-reference is valid only for the lifetime
// of the scope that produced it.
type SessionHandle struct {
	id        string
	server    string
	transport wireTransport
}

// ID returns the session's identifier, safe to log or persist on its own.
func (h *SessionHandle) ID() string { return h.id }

// Server returns the name of the server this session is attached to.
func (h *SessionHandle) Server() string { return h.server }

// GobEncode always fails: SessionHandle must never survive the
// serializability probe, so it can never leak into persisted workflow
// state via WorkflowContext.Set or a step's result value.
func (h *SessionHandle) GobEncode() ([]byte, error) {
	return nil, fmt.Errorf("mcp: SessionHandle is not serializable")
}

// Metadata is the lightweight, persistable record the session manager keeps
// about a session for observability. Unlike SessionHandle, this carries no
// transport reference and is safe to store or log.
type Metadata struct {
	ID        string    `json:"id"`
	Server    string    `json:"server"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

// transportFactory builds the wireTransport backing a scoped session. It is
// a Manager field rather than a free function so tests can substitute a fake
// transport without spawning a real MCP server process.
type transportFactory func(serverName string, descriptor *ServerDescriptor, env map[string]string, logger *slog.Logger) wireTransport

func defaultTransportFactory(serverName string, descriptor *ServerDescriptor, env map[string]string, logger *slog.Logger) wireTransport {
	if descriptor.URL != "" {
		return NewHTTPTransport(serverName, descriptor.URL, env, logger)
	}
	return NewTransport(serverName, descriptor.Command, descriptor.Args, env, logger)
}

// Manager brokers scoped MCP sessions: it owns the ServerRegistry and hands
// out fresh transports per acquisition, guaranteeing teardown on every exit
// path and never letting a live transport handle escape a scope.
type Manager struct {
	registry     *ServerRegistry
	logger       *slog.Logger
	newTransport transportFactory

	mu       sync.Mutex
	sessions map[string]*Metadata
}

// NewManager constructs a session Manager over registry.
func NewManager(registry *ServerRegistry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{registry: registry, logger: logger, newTransport: defaultTransportFactory, sessions: make(map[string]*Metadata)}
}

// ScopedSession acquires a fresh transport for serverName, performs the MCP
// initialize handshake, and invokes fn with the resulting handle. Once Start
// has succeeded, the transport is closed and the session's metadata removed
// on every exit path: success, an fn error, or a panic from fn. Panics are
// not recovered: the cleanup runs and the panic keeps propagating.
func (m *Manager) ScopedSession(ctx context.Context, serverName string, fn func(ctx context.Context, handle *SessionHandle) error) error {
	descriptor, err := m.registry.GetDescriptor(serverName)
	if err != nil {
		return err
	}
	env, err := m.registry.ResolveLaunchEnv(ctx, serverName)
	if err != nil {
		return err
	}

	transport := m.newTransport(serverName, descriptor, env, m.logger)
	if err := transport.Start(ctx); err != nil {
		return err
	}

	handle := &SessionHandle{id: uuid.NewString(), server: serverName, transport: transport}

	now := time.Now()
	meta := &Metadata{ID: handle.id, Server: serverName, CreatedAt: now, LastUsed: now}
	m.mu.Lock()
	m.sessions[handle.id] = meta
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, handle.id)
		m.mu.Unlock()
		_ = transport.Close()
	}()

	return fn(ctx, handle)
}

// ListTools lists the tools advertised by the server behind handle.
func (m *Manager) ListTools(ctx context.Context, handle *SessionHandle) ([]string, error) {
	m.touch(handle)
	return handle.transport.ListTools(ctx)
}

// CallTool invokes toolName on the server behind handle. Before dispatch it
// verifies toolName is among the server's advertised tools; the result must
// pass the serializability probe or CallTool fails with
// NonSerializableResult.
func (m *Manager) CallTool(ctx context.Context, handle *SessionHandle, toolName string, args map[string]any) (any, error) {
	m.touch(handle)

	available, err := m.ListTools(ctx, handle)
	if err != nil {
		return nil, err
	}
	found := false
	for _, name := range available {
		if name == toolName {
			found = true
			break
		}
	}
	if !found {
		return nil, &conductorerrors.ToolNotFound{Server: handle.server, Tool: toolName, Available: available}
	}

	result, err := handle.transport.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}

	if err := serialize.Probe(result); err != nil {
		return nil, &conductorerrors.NonSerializableResult{Server: handle.server, Tool: toolName, Cause: err}
	}

	return result, nil
}

// CallToolWithRetry opens a fresh scoped session per attempt and calls
// CallTool, retrying per attempts with the transport-error classifier. A
// fresh transport per attempt ensures a broken child process never poisons
// subsequent tries.
func (m *Manager) CallToolWithRetry(ctx context.Context, serverName, toolName string, args map[string]any, attempts int, baseDelay, maxDelay time.Duration) (any, error) {
	cfg := retry.Config{
		MaxAttempts: attempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Classifier:  IsRetryableTransportError,
	}

	op := func(ctx context.Context) (any, error) {
		var result any
		err := m.ScopedSession(ctx, serverName, func(ctx context.Context, handle *SessionHandle) error {
			r, err := m.CallTool(ctx, handle, toolName, args)
			result = r
			return err
		})
		return result, err
	}

	return retry.Do(ctx, m.logger, cfg, op)
}

// HealthCheck opens a scoped session and lists tools on serverName; a
// server is healthy iff at least one tool is returned. When serverName is
// empty, HealthCheck runs over every registered server.
func (m *Manager) HealthCheck(ctx context.Context, serverName string) (map[string]bool, error) {
	names := []string{serverName}
	if serverName == "" {
		names = m.registry.ListServers()
	}

	results := make(map[string]bool, len(names))
	for _, name := range names {
		healthy := false
		err := m.ScopedSession(ctx, name, func(ctx context.Context, handle *SessionHandle) error {
			tools, err := m.ListTools(ctx, handle)
			if err != nil {
				return err
			}
			healthy = len(tools) >= 1
			return nil
		})
		if err != nil {
			m.logger.Warn("health check failed", "server", name, "error", err)
		}
		results[name] = healthy
	}
	return results, nil
}

// Sessions returns a snapshot of current session metadata, safe to persist
// or report for observability.
func (m *Manager) Sessions() []Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Metadata, 0, len(m.sessions))
	for _, meta := range m.sessions {
		out = append(out, *meta)
	}
	return out
}

func (m *Manager) touch(handle *SessionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.sessions[handle.id]; ok {
		meta.LastUsed = time.Now()
	}
}

// IsRetryableTransportError classifies transport-layer failures as
// retryable and protocol-level tool errors as not, matching the error
// taxonomy in package errors.
func IsRetryableTransportError(err error) bool {
	type retryableError interface {
		IsRetryable() bool
	}
	if re, ok := err.(retryableError); ok {
		return re.IsRetryable()
	}
	return false
}

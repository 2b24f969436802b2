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

// Package mcp implements the MCP transport, session manager, and server
// registry loader: spawning Model-Context-Protocol server child processes,
// framing newline-delimited JSON-RPC over their stdio, and brokering scoped,
// single-use sessions with guaranteed teardown.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

// ServerDescriptor is one entry in a ServerRegistry: either a command/args
// invocation (a local stdio child process) or a url (a remote endpoint,
// served by HTTPTransport).
type ServerDescriptor struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`

	// DefaultTimeoutSeconds is read from the registry document, but no
	// transport consults it: stdio tool calls are bounded by a fixed
	// 30-second timeout, and HTTP tool calls only by the caller's context.
	DefaultTimeoutSeconds int `json:"defaultTimeoutSeconds,omitempty"`
}

func (d *ServerDescriptor) validate(name string) error {
	if d.Command == "" && d.URL == "" {
		return fmt.Errorf("server %q: must specify command or url", name)
	}
	if d.Command != "" && d.URL != "" {
		return fmt.Errorf("server %q: must specify exactly one of command or url", name)
	}
	return nil
}

// registryDocument is the on-disk shape of the registry file: a single
// top-level key mapping server name to descriptor.
type registryDocument struct {
	MCPServers map[string]*ServerDescriptor `json:"mcpServers"`
}

// ServerRegistry is a process-scoped, read-only mapping from server name to
// ServerDescriptor, loaded once at startup.
type ServerRegistry struct {
	servers map[string]*ServerDescriptor
	logger  *slog.Logger
}

// sensitiveKeyPattern matches environment variable names whose values
// should never appear unredacted in logs.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(TOKEN|PASSWORD|SECRET|API_KEY|CREDENTIAL)`)

// envRefPattern matches $NAME or ${NAME} references to the process
// environment.
var envRefPattern = regexp.MustCompile(`^\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?$`)

// Load parses a server-registry JSON document from path.
func Load(path string, logger *slog.Logger) (*ServerRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &conductorerrors.ConfigError{Key: path, Reason: "cannot read registry file", Cause: err}
	}

	var doc registryDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &conductorerrors.ConfigError{Key: path, Reason: "malformed JSON", Cause: err}
	}
	if doc.MCPServers == nil {
		return nil, &conductorerrors.ConfigError{Key: path, Reason: "missing required top-level key \"mcpServers\""}
	}

	for name, descriptor := range doc.MCPServers {
		if name == "" {
			return nil, &conductorerrors.ConfigError{Key: path, Reason: "server name must not be empty"}
		}
		if err := descriptor.validate(name); err != nil {
			return nil, &conductorerrors.ConfigError{Key: path, Reason: err.Error()}
		}
	}

	return &ServerRegistry{servers: doc.MCPServers, logger: logger}, nil
}

// ListServers returns every registered server name.
func (r *ServerRegistry) ListServers() []string {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	return names
}

// GetDescriptor returns the descriptor for name, or ConfigError if unknown.
func (r *ServerRegistry) GetDescriptor(name string) (*ServerDescriptor, error) {
	d, ok := r.servers[name]
	if !ok {
		return nil, &conductorerrors.ConfigError{Key: name, Reason: "server not registered"}
	}
	return d, nil
}

// ResolveLaunchEnv merges the process environment with the descriptor's env
// overrides for server name, substituting $NAME/${NAME} references against
// the process environment, plus keyring:/ssm: secret references (see
// pkg/mcp/secrets.go). An unresolved reference of any scheme yields the
// empty string and a WARN log; sensitive values are logged only in
// truncated form.
func (r *ServerRegistry) ResolveLaunchEnv(ctx context.Context, name string) (map[string]string, error) {
	d, err := r.GetDescriptor(name)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(os.Environ())+len(d.Env))
	for _, kv := range os.Environ() {
		if key, value, ok := splitEnv(kv); ok {
			resolved[key] = value
		}
	}

	for key, value := range d.Env {
		resolvedValue, ok := resolveEnvValue(ctx, value)
		if !ok {
			r.logger.Warn("unresolved environment variable reference", "server", name, "key", key)
			resolvedValue = ""
		}
		resolved[key] = resolvedValue

		r.logger.Debug("resolved launch env", "server", name, "key", key, "value", redact(key, resolvedValue))
	}
	return resolved, nil
}

// resolveEnvValue resolves a single descriptor env value: a keyring:/ssm:
// secret reference, a $NAME/${NAME} process-environment reference, or a
// literal value passed through unchanged.
func resolveEnvValue(ctx context.Context, value string) (string, bool) {
	if scheme, ref := classifySecretRef(value); scheme != schemeNone {
		return resolveSecretRef(ctx, scheme, ref)
	}
	if m := envRefPattern.FindStringSubmatch(value); m != nil {
		return os.LookupEnv(m[1])
	}
	return value, true
}

// redact truncates values for keys that look sensitive so secrets never hit
// logs in full. Non-sensitive values pass through unchanged.
func redact(key, value string) string {
	if !sensitiveKeyPattern.MatchString(key) {
		return value
	}
	if len(value) <= 6 {
		return "***"
	}
	return fmt.Sprintf("%s…%s", value[:2], value[len(value)-2:])
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

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
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2/clientcredentials"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

// Environment variable keys an HTTP server descriptor's env map may carry to
// configure OAuth2 client-credentials authentication. Any other launch env
// entries are ignored by HTTPTransport; they exist for the stdio Transport.
const (
	envOAuthTokenURL     = "OAUTH_TOKEN_URL"
	envOAuthClientID     = "OAUTH_CLIENT_ID"
	envOAuthClientSecret = "OAUTH_CLIENT_SECRET"
)

// HTTPTransport satisfies the same wireTransport contract as the stdio
// Transport over a remote url instead of a child process's stdio, via
// mark3labs/mcp-go's SSE and Streamable HTTP clients.
type HTTPTransport struct {
	serverName string
	url        string
	oauth      *clientcredentials.Config
	logger     *slog.Logger

	client *client.Client
}

// NewHTTPTransport constructs an HTTPTransport for serverName against url.
// When env carries OAuth2 client-credential references (see the envOAuth*
// constants), requests are authenticated with a bearer token fetched via
// clientcredentials before the connection is established.
func NewHTTPTransport(serverName, url string, env map[string]string, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}

	var oauth *clientcredentials.Config
	if tokenURL := env[envOAuthTokenURL]; tokenURL != "" {
		oauth = &clientcredentials.Config{
			ClientID:     env[envOAuthClientID],
			ClientSecret: env[envOAuthClientSecret],
			TokenURL:     tokenURL,
		}
	}

	return &HTTPTransport{
		serverName: serverName,
		url:        url,
		oauth:      oauth,
		logger:     logger,
	}
}

// Start connects to the remote MCP endpoint and runs the initialize
// handshake. The transport kind (SSE vs Streamable HTTP) is chosen by URL
// suffix, mirroring the convention MCP gateways use for backward-compatible
// SSE endpoints.
func (t *HTTPTransport) Start(ctx context.Context) error {
	var opts []transport.ClientOption
	if t.oauth != nil {
		tok, err := t.oauth.Token(ctx)
		if err != nil {
			return &conductorerrors.TransportStartError{Server: t.serverName, Cause: fmt.Errorf("oauth token fetch: %w", err)}
		}
		opts = append(opts, transport.WithHeaders(map[string]string{
			"Authorization": tok.Type() + " " + tok.AccessToken,
		}))
	}

	var (
		c   *client.Client
		err error
	)
	if strings.HasSuffix(t.url, "/sse") {
		c, err = client.NewSSEMCPClient(t.url, opts...)
	} else {
		c, err = client.NewStreamableHttpClient(t.url, opts...)
	}
	if err != nil {
		return &conductorerrors.TransportStartError{Server: t.serverName, Cause: err}
	}

	if err := c.Start(ctx); err != nil {
		return &conductorerrors.TransportStartError{Server: t.serverName, Cause: err}
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
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return &conductorerrors.TransportStartError{Server: t.serverName, Cause: err}
	}

	t.client = c
	return nil
}

// ListTools retrieves the tool names the server advertises.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]string, error) {
	result, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &conductorerrors.TransportProtocolError{Server: t.serverName, Detail: fmt.Sprintf("tools/list: %v", err), Cause: err}
	}
	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	return names, nil
}

// CallTool invokes toolName with args over the remote connection.
func (t *HTTPTransport) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &conductorerrors.TransportTimeout{Server: t.serverName, Method: toolName, Timeout: defaultSendTimeout}
		}
		return nil, &conductorerrors.TransportProtocolError{Server: t.serverName, Detail: fmt.Sprintf("%s: %v", toolName, err), Cause: err}
	}

	if result.IsError {
		return nil, &conductorerrors.ToolError{Server: t.serverName, Tool: toolName, Message: contentText(result.Content)}
	}

	return decodeToolResult(result.Content), nil
}

// Close tears down the remote connection.
func (t *HTTPTransport) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

// As with transport_test.go, the wire protocol itself belongs to
// mark3labs/mcp-go; these tests exercise only what HTTPTransport owns:
// OAuth token acquisition ahead of the connection and error classification
// for an unreachable endpoint.

func TestHTTPTransport_StartFailsForUnreachableOAuthTokenURL(t *testing.T) {
	env := map[string]string{
		envOAuthTokenURL:     "http://127.0.0.1:1/token",
		envOAuthClientID:     "client",
		envOAuthClientSecret: "secret",
	}
	tr := NewHTTPTransport("demo", "http://127.0.0.1:1/mcp", env, nil)
	err := tr.Start(context.Background())
	var startErr *conductorerrors.TransportStartError
	if !asTransportStartError(err, &startErr) {
		t.Fatalf("expected TransportStartError, got %v", err)
	}
}

func TestHTTPTransport_FetchesOAuthTokenBeforeConnecting(t *testing.T) {
	var tokenRequests int
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	env := map[string]string{
		envOAuthTokenURL:     tokenSrv.URL,
		envOAuthClientID:     "client",
		envOAuthClientSecret: "secret",
	}
	// The MCP endpoint itself is unreachable, so Start still fails, but only
	// after the OAuth round trip has already happened.
	tr := NewHTTPTransport("demo", "http://127.0.0.1:1/mcp", env, nil)
	_ = tr.Start(context.Background())

	if tokenRequests != 1 {
		t.Fatalf("expected exactly one OAuth token request, got %d", tokenRequests)
	}
}

func TestHTTPTransport_StartFailsForUnreachableEndpoint(t *testing.T) {
	tr := NewHTTPTransport("demo", "http://127.0.0.1:1/mcp", nil, nil)
	err := tr.Start(context.Background())
	var startErr *conductorerrors.TransportStartError
	if !asTransportStartError(err, &startErr) {
		t.Fatalf("expected TransportStartError, got %v", err)
	}
}

func TestHTTPTransport_CloseIsIdempotent(t *testing.T) {
	tr := NewHTTPTransport("demo", "http://example.invalid", nil, nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

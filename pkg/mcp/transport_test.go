package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

// Following the teacher's own precedent for testing an mcp-go-wrapped
// client (internal/mcp/client_test.go in the teacher repo), these tests
// avoid hand-crafted JSON-RPC fixtures: the wire protocol belongs to
// mark3labs/mcp-go, not to this package. What this package owns is process
// lifecycle and error classification, so that's what gets exercised here.

func TestTransport_StartFailsForMissingCommand(t *testing.T) {
	tr := NewTransport("demo", "definitely-not-a-real-mcp-server-binary", nil, nil, nil)
	err := tr.Start(context.Background())
	var startErr *conductorerrors.TransportStartError
	if !asTransportStartError(err, &startErr) {
		t.Fatalf("expected TransportStartError, got %v", err)
	}
	if !startErr.IsRetryable() {
		t.Error("expected a start failure to be classified retryable")
	}
}

func TestTransport_StartTwiceFails(t *testing.T) {
	tr := NewTransport("demo", "definitely-not-a-real-mcp-server-binary", nil, nil, nil)
	_ = tr.Start(context.Background())
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start call to fail, transport already left stateInit")
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	tr := NewTransport("demo", "definitely-not-a-real-mcp-server-binary", nil, nil, nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTransport_ListToolsBeforeStartFails(t *testing.T) {
	tr := NewTransport("demo", "echo", nil, nil, nil)
	_, err := tr.ListTools(context.Background())
	var protoErr *conductorerrors.TransportProtocolError
	if !asTransportProtocolError(err, &protoErr) {
		t.Fatalf("expected TransportProtocolError for a transport that was never started, got %v", err)
	}
}

func TestTransport_CallToolBeforeStartFails(t *testing.T) {
	tr := NewTransport("demo", "echo", nil, nil, nil)
	_, err := tr.CallTool(context.Background(), "noop", nil)
	var protoErr *conductorerrors.TransportProtocolError
	if !asTransportProtocolError(err, &protoErr) {
		t.Fatalf("expected TransportProtocolError for a transport that was never started, got %v", err)
	}
}

func TestDecodeToolResult_SingleTextContentIsParsedAsJSON(t *testing.T) {
	got := decodeToolResult([]mcp.Content{mcp.TextContent{Type: "text", Text: `{"ok":true}`}})
	m, ok := got.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("expected decoded JSON object, got %#v", got)
	}
}

func TestDecodeToolResult_NonJSONTextFallsBackToString(t *testing.T) {
	got := decodeToolResult([]mcp.Content{mcp.TextContent{Type: "text", Text: "plain output"}})
	if got != "plain output" {
		t.Fatalf("expected raw string fallback, got %#v", got)
	}
}

func asTransportStartError(err error, target **conductorerrors.TransportStartError) bool {
	v, ok := err.(*conductorerrors.TransportStartError)
	if ok {
		*target = v
	}
	return ok
}

func asTransportProtocolError(err error, target **conductorerrors.TransportProtocolError) bool {
	v, ok := err.(*conductorerrors.TransportProtocolError)
	if ok {
		*target = v
	}
	return ok
}

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akz4ol/toolsgateway/internal/mcprpc"
)

func TestHandleEndpointRawString(t *testing.T) {
	c := newSSEClient("http://example.com/mcp/sse")
	c.connectedCh = make(chan struct{})

	c.handleEndpoint("/messages?session_id=abc")

	if !c.isConnected() {
		t.Fatalf("expected client to be connected after an endpoint event")
	}
	if c.messagesURL != "http://example.com/mcp/messages?session_id=abc" {
		t.Fatalf("unexpected messages URL: %s", c.messagesURL)
	}
}

func TestHandleEndpointJSONWrapped(t *testing.T) {
	c := newSSEClient("http://example.com/mcp/sse")
	c.connectedCh = make(chan struct{})

	wrapped := `{"method":"endpoint","params":{"endpoint":"/messages?session_id=xyz"}}`
	c.handleEndpoint(wrapped)

	if c.messagesURL != "http://example.com/mcp/messages?session_id=xyz" {
		t.Fatalf("unexpected messages URL: %s", c.messagesURL)
	}
}

func TestHandleEndpointAbsoluteURL(t *testing.T) {
	c := newSSEClient("http://example.com/mcp/sse")
	c.connectedCh = make(chan struct{})

	c.handleEndpoint("https://other-host.example/messages?session_id=abc")

	if c.messagesURL != "https://other-host.example/messages?session_id=abc" {
		t.Fatalf("expected an absolute endpoint to be used as-is, got %s", c.messagesURL)
	}
}

func TestSSEClientCloseClearsPendingAndState(t *testing.T) {
	c := newSSEClient("http://example.com/sse")
	c.connected = true
	c.initialized = true
	ch := make(chan *mcprpc.Response, 1)
	c.pending["req-1"] = ch

	c.close()

	if c.isConnected() || c.isInitialized() {
		t.Fatalf("expected close to reset connected/initialized flags")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected pending channel to be closed")
	}
}

// sseTestServer emulates a backend speaking the SSE MCP transport: a GET
// to /sse streams an initial "endpoint" event plus whatever is pushed
// onto frames, and POST /messages replies asynchronously over that
// stream rather than in the POST response body.
func sseTestServer(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	frames := make(chan string, 16)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		for {
			select {
			case f := <-frames:
				fmt.Fprintf(w, "data: %s\n\n", f)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req mcprpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

		switch req.Method {
		case "initialize":
			b, _ := json.Marshal(mcprpc.NewResult(req.ID, mcprpc.InitializeResult{ProtocolVersion: mcprpc.ProtocolVersion}))
			frames <- string(b)
		case "tools/list":
			b, _ := json.Marshal(mcprpc.NewResult(req.ID, mcprpc.ToolsListResult{Tools: []mcprpc.ToolDescriptor{{Name: "sse.tool"}}}))
			frames <- string(b)
		case "tools/call":
			b, _ := json.Marshal(mcprpc.NewResult(req.ID, map[string]interface{}{"ok": true}))
			frames <- string(b)
		}
	})

	return httptest.NewServer(mux), frames
}

func TestListToolsSSEEndToEnd(t *testing.T) {
	srv, _ := sseTestServer(t)
	defer srv.Close()

	m := newTestManager()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tools, err := m.ListTools(ctx, srv.URL+"/sse")
	if err != nil {
		t.Fatalf("ListTools over SSE: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "sse.tool" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestCallToolSSEEndToEnd(t *testing.T) {
	srv, _ := sseTestServer(t)
	defer srv.Close()

	m := newTestManager()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := m.CallTool(ctx, srv.URL+"/sse", "sse.tool", nil)
	if err != nil {
		t.Fatalf("CallTool over SSE: %v", err)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDisconnectSSERemovesClient(t *testing.T) {
	srv, _ := sseTestServer(t)
	defer srv.Close()

	m := newTestManager()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := m.ListTools(ctx, srv.URL+"/sse"); err != nil {
		t.Fatalf("ListTools over SSE: %v", err)
	}
	if m.getSSEClient(srv.URL + "/sse") == nil {
		t.Fatalf("expected a cached SSE client after a successful call")
	}

	m.DisconnectSSE(srv.URL + "/sse")

	if m.getSSEClient(srv.URL + "/sse") != nil {
		t.Fatalf("expected DisconnectSSE to drop the cached client")
	}
}

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/mcprpc"
)

func newTestManager() *Manager {
	return New(zerolog.Nop())
}

// fakeBackend emulates an HTTP-POST MCP server: it issues a session id
// on initialize and answers tools/list and tools/call afterward.
func fakeBackend(t *testing.T, toolsResult mcprpc.ToolsListResult, callResult map[string]interface{}) *httptest.Server {
	t.Helper()
	const sessionID = "sess-test-1"

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
			return
		}

		var req mcprpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		switch req.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", sessionID)
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(mcprpc.NewResult(req.ID, mcprpc.InitializeResult{
				ProtocolVersion: mcprpc.ProtocolVersion,
			}))
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			if r.Header.Get("Mcp-Session-Id") != sessionID {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(mcprpc.NewResult(req.ID, toolsResult))
		case "tools/call":
			if r.Header.Get("Mcp-Session-Id") != sessionID {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(mcprpc.NewResult(req.ID, callResult))
		default:
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(mcprpc.NewError(req.ID, mcprpc.CodeMethodNotFound, "unknown method"))
		}
	}))
}

func TestListToolsHTTPCreatesSessionAndReturnsTools(t *testing.T) {
	srv := fakeBackend(t, mcprpc.ToolsListResult{Tools: []mcprpc.ToolDescriptor{{Name: "tool.a"}}}, nil)
	defer srv.Close()

	m := newTestManager()
	tools, err := m.ListTools(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "tool.a" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestCallToolHTTPReusesSession(t *testing.T) {
	srv := fakeBackend(t, mcprpc.ToolsListResult{}, map[string]interface{}{"ok": true})
	defer srv.Close()

	m := newTestManager()

	// First call creates the session.
	result, err := m.CallTool(context.Background(), srv.URL, "tool.a", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}

	m.mu.Lock()
	sessionBefore := m.sessions[srv.URL]
	m.mu.Unlock()
	if sessionBefore == "" {
		t.Fatalf("expected a cached session after first call")
	}

	// Second call should reuse the cached session rather than
	// re-initializing.
	if _, err := m.CallTool(context.Background(), srv.URL, "tool.a", nil); err != nil {
		t.Fatalf("CallTool (second): %v", err)
	}

	m.mu.Lock()
	sessionAfter := m.sessions[srv.URL]
	m.mu.Unlock()
	if sessionAfter != sessionBefore {
		t.Fatalf("expected the session id to stay the same across calls")
	}
}

func TestCheckHealthSucceedsAgainstLiveBackend(t *testing.T) {
	srv := fakeBackend(t, mcprpc.ToolsListResult{}, nil)
	defer srv.Close()

	m := newTestManager()
	if err := m.CheckHealth(context.Background(), srv.URL); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
}

func TestCheckHealthFailsAgainstUnreachableBackend(t *testing.T) {
	m := newTestManager()
	if err := m.CheckHealth(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Fatalf("expected CheckHealth against an unreachable backend to fail")
	}
}

func TestCloseTearsDownSessions(t *testing.T) {
	srv := fakeBackend(t, mcprpc.ToolsListResult{}, nil)
	defer srv.Close()

	m := newTestManager()
	if _, err := m.ListTools(context.Background(), srv.URL); err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	m.Close(context.Background())

	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected Close to drop all cached sessions, got %d remaining", n)
	}
}

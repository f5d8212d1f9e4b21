// Package backend manages live connections to registered MCP tool
// servers, speaking either the short-lived HTTP-POST-with-session
// transport or the long-lived SSE transport depending on the server's
// URL, and dispatches tools/call and tools/list against them.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/mcprpc"
)

// Manager owns the gateway's connections to every registered backend
// MCP server. A single Manager is shared by the discovery service and
// the request router.
type Manager struct {
	client *http.Client
	logger zerolog.Logger

	mu               sync.Mutex
	sessions         map[string]string        // server URL -> Mcp-Session-Id
	sessionCreating  map[string]chan struct{} // server URL -> in-flight session creation

	sseMu   sync.Mutex
	sse     map[string]*sseClient // server URL -> SSE client
	sseInit map[string]chan struct{}
}

// New builds a Manager. The HTTP client always skips TLS verification,
// in every environment, so self-signed backend certificates are
// accepted, mirroring the Python original's permissive default.
func New(logger zerolog.Logger) *Manager {
	return &Manager{
		client: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
				MaxIdleConnsPerHost: 30,
			},
		},
		logger:          logger,
		sessions:        make(map[string]string),
		sessionCreating: make(map[string]chan struct{}),
		sse:             make(map[string]*sseClient),
		sseInit:         make(map[string]chan struct{}),
	}
}

// CallTool routes a tools/call to serverURL via the appropriate
// transport based on domain.IsSSE.
func (m *Manager) CallTool(ctx context.Context, serverURL, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	if domain.IsSSE(serverURL) {
		return m.callToolSSE(ctx, serverURL, toolName, args)
	}
	return m.callToolHTTP(ctx, serverURL, toolName, args)
}

// ListTools fetches tools/list from serverURL via the appropriate transport.
func (m *Manager) ListTools(ctx context.Context, serverURL string) ([]mcprpc.ToolDescriptor, error) {
	if domain.IsSSE(serverURL) {
		return m.listToolsSSE(ctx, serverURL)
	}
	return m.listToolsHTTP(ctx, serverURL)
}

// CheckHealth performs a lightweight liveness probe against serverURL,
// used by the health monitor. For HTTP-POST backends this is a
// tools/list call reusing any cached session; for SSE backends it's an
// is-initialized check with recovery attempted on failure.
func (m *Manager) CheckHealth(ctx context.Context, serverURL string) error {
	if domain.IsSSE(serverURL) {
		client := m.getSSEClient(serverURL)
		if client != nil && client.isInitialized() {
			return nil
		}
		_, err := m.ensureSSEInitialized(ctx, serverURL)
		return err
	}
	_, err := m.listToolsHTTP(ctx, serverURL)
	return err
}

// Close tears down every session and SSE connection the Manager holds.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := make(map[string]string, len(m.sessions))
	for k, v := range m.sessions {
		sessions[k] = v
	}
	m.mu.Unlock()

	for url, sessionID := range sessions {
		m.deleteSession(ctx, url, sessionID)
	}
	m.mu.Lock()
	m.sessions = make(map[string]string)
	m.mu.Unlock()

	m.sseMu.Lock()
	clients := make([]*sseClient, 0, len(m.sse))
	for _, c := range m.sse {
		clients = append(clients, c)
	}
	m.sse = make(map[string]*sseClient)
	m.sseMu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// --- HTTP-POST transport ---

func (m *Manager) httpHeaders(sessionID string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/event-stream")
	h.Set("Content-Type", "application/json")
	h.Set("MCP-Protocol-Version", mcprpc.ProtocolVersion)
	if sessionID != "" {
		h.Set("Mcp-Session-Id", sessionID)
	}
	return h
}

// getOrCreateSession returns the cached session id for serverURL,
// coalescing concurrent creation attempts behind a single handshake so
// N simultaneous requests for a brand-new backend produce one
// initialize/notifications-initialized exchange, not N.
func (m *Manager) getOrCreateSession(ctx context.Context, serverURL string) (string, error) {
	m.mu.Lock()
	if sessionID, ok := m.sessions[serverURL]; ok {
		m.mu.Unlock()
		return sessionID, nil
	}
	if wait, creating := m.sessionCreating[serverURL]; creating {
		m.mu.Unlock()
		<-wait
		m.mu.Lock()
		sessionID, ok := m.sessions[serverURL]
		m.mu.Unlock()
		if ok {
			return sessionID, nil
		}
		return "", fmt.Errorf("session creation for %s failed in another goroutine", serverURL)
	}

	done := make(chan struct{})
	m.sessionCreating[serverURL] = done
	m.mu.Unlock()

	sessionID, err := m.createSession(ctx, serverURL)

	m.mu.Lock()
	if err == nil {
		m.sessions[serverURL] = sessionID
	}
	delete(m.sessionCreating, serverURL)
	close(done)
	m.mu.Unlock()

	return sessionID, err
}

func (m *Manager) createSession(ctx context.Context, serverURL string) (string, error) {
	initReq := mcprpc.Request{
		JSONRPC: "2.0",
		Method:  "initialize",
		ID:      idJSON(uuid.NewString()),
	}
	params, _ := json.Marshal(mcprpc.InitializeParams{
		ProtocolVersion: mcprpc.ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      mcprpc.GatewayClientInfo,
	})
	initReq.Params = params

	body, _ := json.Marshal(initReq)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header = m.httpHeaders("")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("initialize %s: HTTP %d: %s", serverURL, resp.StatusCode, text)
	}

	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		return "", fmt.Errorf("no Mcp-Session-Id returned by %s", serverURL)
	}
	io.Copy(io.Discard, resp.Body)

	m.logger.Info().Str("server", serverURL).Str("session_id", sessionID).Msg("backend: created HTTP-POST session")

	notif := mcprpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"}
	notifBody, _ := json.Marshal(notif)
	notifReq, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(notifBody))
	if err == nil {
		notifReq.Header = m.httpHeaders(sessionID)
		if notifResp, err := m.client.Do(notifReq); err == nil {
			io.Copy(io.Discard, notifResp.Body)
			notifResp.Body.Close()
		} else {
			m.logger.Debug().Err(err).Str("server", serverURL).Msg("backend: initialized notification failed")
		}
	}

	return sessionID, nil
}

func (m *Manager) clearSession(serverURL string) {
	m.mu.Lock()
	delete(m.sessions, serverURL)
	m.mu.Unlock()
}

func (m *Manager) deleteSession(ctx context.Context, serverURL, sessionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, serverURL, nil)
	if err != nil {
		return
	}
	req.Header = m.httpHeaders(sessionID)
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Str("server", serverURL).Msg("backend: close session failed")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// doHTTP posts payload to serverURL with a fresh/cached session,
// retrying exactly once if the backend reports the session expired
// (HTTP 404), and returns the response's status code and fully-read
// body.
func (m *Manager) doHTTP(ctx context.Context, serverURL string, payload mcprpc.Request, timeout time.Duration) (int, []byte, error) {
	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sessionID, err := m.getOrCreateSession(ctx, serverURL)
		if err != nil {
			return 0, nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Err: err}
		}

		status, text, err := m.postOnce(ctx, serverURL, sessionID, payload, timeout)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTimeout, Server: serverURL, Err: err}
			}
			return 0, nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Err: err}
		}

		if status == http.StatusNotFound && attempt < maxAttempts-1 {
			m.logger.Warn().Str("server", serverURL).Msg("backend: session not found, clearing and retrying once")
			m.clearSession(serverURL)
			continue
		}

		return status, text, nil
	}
	return 0, nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Err: lastErr}
}

func (m *Manager) postOnce(ctx context.Context, serverURL, sessionID string, payload mcprpc.Request, timeout time.Duration) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header = m.httpHeaders(sessionID)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, text, nil
}

func (m *Manager) callToolHTTP(ctx context.Context, serverURL, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	params, _ := json.Marshal(mcprpc.ToolCallParams{Name: toolName, Arguments: args})
	payload := mcprpc.Request{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: idJSON(uuid.NewString())}

	status, text, err := m.doHTTP(ctx, serverURL, payload, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Message: fmt.Sprintf("HTTP %d: %s", status, text)}
	}

	return decodeToolResult(serverURL, text)
}

func (m *Manager) listToolsHTTP(ctx context.Context, serverURL string) ([]mcprpc.ToolDescriptor, error) {
	payload := mcprpc.Request{JSONRPC: "2.0", Method: "tools/list", ID: idJSON("discovery-list")}

	status, text, err := m.doHTTP(ctx, serverURL, payload, 10*time.Second)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		m.clearSession(serverURL)
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Message: "session expired"}
	}
	if status != http.StatusOK {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Message: fmt.Sprintf("HTTP %d: %s", status, text)}
	}

	var rpcResp mcprpc.Response
	if err := json.Unmarshal(text, &rpcResp); err != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamApplication, Server: serverURL, Message: rpcResp.Error.Message}
	}

	var result mcprpc.ToolsListResult
	if rpcResp.Result != nil {
		raw, _ := json.Marshal(rpcResp.Result)
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Err: err}
		}
	}
	return result.Tools, nil
}

func decodeToolResult(serverURL string, body []byte) (map[string]interface{}, error) {
	var rpcResp mcprpc.Response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Err: err}
	}
	if rpcResp.Error != nil {
		appErr := map[string]interface{}{"code": rpcResp.Error.Code, "message": rpcResp.Error.Message}
		if rpcResp.Error.Data != nil {
			appErr["data"] = rpcResp.Error.Data
		}
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamApplication, Server: serverURL, Message: rpcResp.Error.Message, AppError: appErr}
	}
	if rpcResp.Result == nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Message: "response carries neither result nor error"}
	}
	raw, _ := json.Marshal(rpcResp.Result)
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Err: err}
	}
	return out, nil
}

func idJSON(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

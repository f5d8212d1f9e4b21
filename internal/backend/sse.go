package backend

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/mcprpc"
)

const (
	maxReconnectAttempts = 3
	reconnectDelay       = 2 * time.Second
	sseConnectWait       = 5 * time.Second
)

// sseClient holds a single long-lived SSE connection to one backend
// server: a background goroutine reads the event stream and resolves
// pending requests by id as their responses arrive.
type sseClient struct {
	serverURL string
	client    *http.Client

	mu          sync.Mutex
	connected   bool
	initialized bool
	messagesURL string
	pending     map[string]chan *mcprpc.Response
	cancel      context.CancelFunc
	connectedCh chan struct{}
}

func newSSEClient(serverURL string) *sseClient {
	return &sseClient{
		serverURL: serverURL,
		client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		},
		pending: make(map[string]chan *mcprpc.Response),
	}
}

func (c *sseClient) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *sseClient) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *sseClient) markInitialized() {
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

// connect starts the read-pump goroutine and waits up to sseConnectWait
// for the backend's "endpoint" event to arrive, at which point the
// client is considered connected.
func (c *sseClient) connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.connectedCh = make(chan struct{})
	c.mu.Unlock()

	go c.listen(runCtx)

	select {
	case <-c.connectedCh:
		return nil
	case <-time.After(sseConnectWait):
		cancel()
		return fmt.Errorf("sse connect to %s: timed out waiting for endpoint event", c.serverURL)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (c *sseClient) close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.connected = false
	c.initialized = false
	c.mu.Unlock()
	c.failPending()
}

// failPending resolves every outstanding awaiter with a transport-reset
// signal (a closed channel), so a caller blocked in sendMessage during a
// reconnect fails immediately instead of riding out its own timeout.
func (c *sseClient) failPending() {
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// listen runs for the lifetime of the connection, making at most
// maxReconnectAttempts connection attempts in all: after an attempt that
// ends in an error it waits reconnectDelay and connects again; a stream
// that ends without an error is not reopened.
// Every reconnect re-acquires session_id and messagesURL from scratch,
// so any requests still pending against the old connection can never be
// answered and are failed here rather than left to time out.
func (c *sseClient) listen(ctx context.Context) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			c.failPending()
			return
		}
		err := c.runOnce(ctx)
		c.mu.Lock()
		c.connected = false
		c.initialized = false
		c.messagesURL = ""
		c.mu.Unlock()
		c.failPending()
		if ctx.Err() != nil {
			return
		}
		if err != nil && attempt < maxReconnectAttempts-1 {
			time.Sleep(reconnectDelay)
			continue
		}
		return
	}
}

func (c *sseClient) runOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse stream %s: HTTP %d", c.serverURL, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		data := strings.Join(dataLines, "\n")
		c.handleEvent(eventType, data)
		eventType = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return scanner.Err()
}

// handleEvent processes one parsed SSE frame: either the initial
// "endpoint" event that discovers the per-session POST URL, or a
// JSON-RPC response/notification correlated by id.
func (c *sseClient) handleEvent(eventType, data string) {
	if eventType == "endpoint" {
		c.handleEndpoint(data)
		return
	}

	var msg mcprpc.Response
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return
	}
	if len(msg.ID) == 0 {
		return
	}
	key := string(msg.ID)

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if ok {
		m := msg
		ch <- &m
		close(ch)
	}
}

// handleEndpoint accepts the "endpoint" frame in either the raw-string
// form a server sends it in ("/messages?session_id=X") or a
// JSON-RPC-wrapped form ({"method":"endpoint","params":{"endpoint":"..."}}).
func (c *sseClient) handleEndpoint(data string) {
	endpoint := strings.TrimSpace(data)
	endpoint = strings.Trim(endpoint, "\"")

	var wrapped struct {
		Method string `json:"method"`
		Params struct {
			Endpoint string `json:"endpoint"`
		} `json:"params"`
	}
	if err := json.Unmarshal([]byte(data), &wrapped); err == nil && wrapped.Params.Endpoint != "" {
		endpoint = wrapped.Params.Endpoint
	}

	base, err := url.Parse(c.serverURL)
	if err != nil {
		return
	}
	idx := strings.LastIndex(base.Path, "/")
	parsedBase := c.serverURL
	if idx >= 0 {
		parsedBase = base.Scheme + "://" + base.Host + base.Path[:idx]
	}

	var messagesURL string
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		messagesURL = endpoint
	} else {
		messagesURL = parsedBase + endpoint
	}

	c.mu.Lock()
	c.messagesURL = messagesURL
	c.connected = true
	ch := c.connectedCh
	c.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// sendMessage posts a JSON-RPC request over the session's messages URL
// and waits for its correlated response. The pending future is
// registered before the POST so a response racing ahead of the HTTP
// call returning is never missed.
func (c *sseClient) sendMessage(ctx context.Context, req mcprpc.Request) (*mcprpc.Response, error) {
	c.mu.Lock()
	messagesURL := c.messagesURL
	key := string(req.ID)
	ch := make(chan *mcprpc.Response, 1)
	c.pending[key] = ch
	c.mu.Unlock()

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(body))
	if err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: c.serverURL, Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: c.serverURL, Message: fmt.Sprintf("messages post: HTTP %d", resp.StatusCode)}
	}

	select {
	case rpcResp, ok := <-ch:
		if !ok {
			return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: c.serverURL, Message: "sse transport reset: connection reset while awaiting response"}
		}
		return rpcResp, nil
	case <-time.After(30 * time.Second):
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTimeout, Server: c.serverURL, Message: "timed out waiting for SSE response"}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// sendNotification posts a JSON-RPC notification (no id, no response).
func (c *sseClient) sendNotification(ctx context.Context, req mcprpc.Request) error {
	c.mu.Lock()
	messagesURL := c.messagesURL
	c.mu.Unlock()

	req.ID = nil
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: c.serverURL, Err: err}
	}
	resp.Body.Close()
	return nil
}

// --- Manager-level SSE orchestration ---

func (m *Manager) getSSEClient(serverURL string) *sseClient {
	m.sseMu.Lock()
	defer m.sseMu.Unlock()
	return m.sse[serverURL]
}

// ensureSSEInitialized returns a connected + MCP-initialized client for
// serverURL, coalescing concurrent initialization attempts for the same
// server behind a single handshake.
func (m *Manager) ensureSSEInitialized(ctx context.Context, serverURL string) (*sseClient, error) {
	m.sseMu.Lock()
	if client, ok := m.sse[serverURL]; ok && client.isInitialized() {
		m.sseMu.Unlock()
		return client, nil
	}
	if wait, initializing := m.sseInit[serverURL]; initializing {
		m.sseMu.Unlock()
		<-wait
		m.sseMu.Lock()
		client, ok := m.sse[serverURL]
		m.sseMu.Unlock()
		if ok && client.isInitialized() {
			return client, nil
		}
		return nil, fmt.Errorf("sse initialize for %s failed in another goroutine", serverURL)
	}

	done := make(chan struct{})
	m.sseInit[serverURL] = done
	m.sseMu.Unlock()

	client, err := m.initializeSSE(ctx, serverURL)

	m.sseMu.Lock()
	if err == nil {
		m.sse[serverURL] = client
	}
	delete(m.sseInit, serverURL)
	close(done)
	m.sseMu.Unlock()

	return client, err
}

func (m *Manager) initializeSSE(ctx context.Context, serverURL string) (*sseClient, error) {
	client := newSSEClient(serverURL)
	if err := client.connect(ctx); err != nil {
		return nil, err
	}

	params, _ := json.Marshal(mcprpc.InitializeParams{
		ProtocolVersion: mcprpc.ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      mcprpc.GatewayClientInfo,
	})
	initReq := mcprpc.Request{JSONRPC: "2.0", Method: "initialize", Params: params, ID: idJSON(uuid.NewString())}
	if _, err := client.sendMessage(ctx, initReq); err != nil {
		client.close()
		return nil, err
	}

	notif := mcprpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"}
	if err := client.sendNotification(ctx, notif); err != nil {
		m.logger.Debug().Err(err).Str("server", serverURL).Msg("backend: sse initialized notification failed")
	}

	client.markInitialized()
	m.logger.Info().Str("server", serverURL).Msg("backend: SSE session initialized")
	return client, nil
}

func (m *Manager) callToolSSE(ctx context.Context, serverURL, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	client, err := m.ensureSSEInitialized(ctx, serverURL)
	if err != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Err: err}
	}

	params, _ := json.Marshal(mcprpc.ToolCallParams{Name: toolName, Arguments: args})
	req := mcprpc.Request{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: idJSON(uuid.NewString())}

	resp, err := client.sendMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		appErr := map[string]interface{}{"code": resp.Error.Code, "message": resp.Error.Message}
		if resp.Error.Data != nil {
			appErr["data"] = resp.Error.Data
		}
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamApplication, Server: serverURL, Message: resp.Error.Message, AppError: appErr}
	}
	if resp.Result == nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Message: "response carries neither result nor error"}
	}
	raw, _ := json.Marshal(resp.Result)
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Err: err}
	}
	return out, nil
}

func (m *Manager) listToolsSSE(ctx context.Context, serverURL string) ([]mcprpc.ToolDescriptor, error) {
	client, err := m.ensureSSEInitialized(ctx, serverURL)
	if err != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamTransport, Server: serverURL, Err: err}
	}

	req := mcprpc.Request{JSONRPC: "2.0", Method: "tools/list", ID: idJSON(uuid.NewString())}
	resp, err := client.sendMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamApplication, Server: serverURL, Message: resp.Error.Message}
	}

	var result mcprpc.ToolsListResult
	if resp.Result != nil {
		raw, _ := json.Marshal(resp.Result)
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &gwerrors.UpstreamError{Kind: gwerrors.UpstreamParse, Server: serverURL, Err: err}
		}
	}
	return result.Tools, nil
}

// disconnectSSE drops and closes a server's SSE client, used by the
// discovery service when a health check or refresh fails.
func (m *Manager) disconnectSSE(serverURL string) {
	m.sseMu.Lock()
	client, ok := m.sse[serverURL]
	if ok {
		delete(m.sse, serverURL)
	}
	m.sseMu.Unlock()
	if ok {
		client.close()
	}
}

// DisconnectSSE is the exported form disconnectSSE, for use by the
// discovery service outside this package.
func (m *Manager) DisconnectSSE(serverURL string) {
	m.disconnectSSE(serverURL)
}

// Package adminfeed broadcasts gateway status events to connected
// admin dashboards over WebSocket: backend health transitions and
// audit log entries, pushed as they happen rather than polled.
package adminfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	EventHealthChanged EventType = "health_changed"
	EventAuditLogged   EventType = "audit_logged"
)

// Event is a single status update pushed to every connected admin client.
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type client struct {
	id     uuid.UUID
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

// Hub fans Event values out to every connected admin WebSocket client.
// A client that falls behind has its connection dropped rather than
// blocking the broadcaster.
type Hub struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	clients  map[uuid.UUID]*client
	upgrader websocket.Upgrader
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[uuid.UUID]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and registers it for broadcasts.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("adminfeed: websocket upgrade failed")
		return
	}

	c := &client{
		id:     uuid.New(),
		ws:     ws,
		sendCh: make(chan []byte, 64),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.id.String()).Msg("adminfeed: client connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump only exists to detect disconnects and service pings; admin
// clients never send business messages on this feed.
func (h *Hub) readPump(c *client) {
	defer h.disconnect(c)

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) disconnect(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.done)
	}
	h.mu.Unlock()
	h.logger.Info().Str("client_id", c.id.String()).Msg("adminfeed: client disconnected")
}

// Broadcast pushes evt to every connected admin client. Call sites
// (health.Monitor's check loop, audit.Logger.Log) hold no reference to
// Hub directly; main wires a small adapter closure instead so those
// packages stay decoupled from the transport.
func (h *Hub) Broadcast(evt Event) {
	evt.Timestamp = time.Now()
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error().Err(err).Msg("adminfeed: failed to marshal event")
		return
	}

	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.sendCh <- data:
		default:
			h.logger.Warn().Str("client_id", c.id.String()).Msg("adminfeed: send buffer full, dropping client")
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.disconnect(c)
	}
}

// ClientCount reports how many admin dashboards are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// ServerEngine is the subset of persistence + live dispatch the backend
// server admin handler needs.
type ServerEngine interface {
	ListServers(ctx context.Context) ([]*domain.BackendServer, error)
	GetServer(ctx context.Context, serverID string) (*domain.BackendServer, error)
	CreateServer(ctx context.Context, s *domain.BackendServer) error
	UpdateServer(ctx context.Context, s *domain.BackendServer) error
	DeleteServer(ctx context.Context, serverID string) error
}

// ServerTester is the subset of backend.Manager the "test connection"
// endpoint needs.
type ServerTester interface {
	CheckHealth(ctx context.Context, serverURL string) error
}

// ServerHandler administers backend MCP server registrations: the
// gateway's connection-manager-facing source of truth for which
// servers discovery fans out to.
type ServerHandler struct {
	logger zerolog.Logger
	store  ServerEngine
	tester ServerTester
}

func NewServerHandler(logger zerolog.Logger, store ServerEngine, tester ServerTester) *ServerHandler {
	return &ServerHandler{logger: logger, store: store, tester: tester}
}

// ListServers returns every registered backend server.
func (h *ServerHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to list servers")
		return
	}
	WriteSuccess(w, map[string]interface{}{"servers": servers, "total": len(servers)})
}

// GetServer returns a single backend server by id.
func (h *ServerHandler) GetServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	srv, err := h.store.GetServer(r.Context(), serverID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "server not found")
		return
	}
	WriteSuccess(w, srv)
}

// ServerInput is the request body for registering or updating a
// backend server.
type ServerInput struct {
	URL     string `json:"url"`
	Enabled *bool  `json:"enabled"`
}

// CreateServer registers a new backend MCP server.
func (h *ServerHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var input ServerInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.URL == "" {
		WriteError(w, http.StatusBadRequest, "missing_url", "url is required")
		return
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	srv := &domain.BackendServer{
		ServerID: "srv_" + uuid.NewString(),
		URL:      input.URL,
		Enabled:  enabled,
	}
	if err := h.store.CreateServer(r.Context(), srv); err != nil {
		h.logger.Error().Err(err).Str("url", input.URL).Msg("failed to register server")
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to register server")
		return
	}
	WriteJSON(w, http.StatusCreated, srv)
}

// UpdateServer updates a backend server's url or enabled flag.
func (h *ServerHandler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")

	srv, err := h.store.GetServer(r.Context(), serverID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "server not found")
		return
	}

	var input ServerInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.URL != "" {
		srv.URL = input.URL
	}
	if input.Enabled != nil {
		srv.Enabled = *input.Enabled
	}

	if err := h.store.UpdateServer(r.Context(), srv); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to update server")
		return
	}
	WriteSuccess(w, srv)
}

// DeleteServer deregisters a backend server.
func (h *ServerHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	if err := h.store.DeleteServer(r.Context(), serverID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to delete server")
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

// TestServer probes a registered server's liveness on demand, outside
// the periodic health-monitor loop.
func (h *ServerHandler) TestServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	srv, err := h.store.GetServer(r.Context(), serverID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "server not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.tester.CheckHealth(ctx, srv.URL); err != nil {
		WriteSuccess(w, map[string]interface{}{"healthy": false, "error": err.Error()})
		return
	}
	WriteSuccess(w, map[string]interface{}{"healthy": true})
}

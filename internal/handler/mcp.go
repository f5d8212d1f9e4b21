package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/mcprpc"
	"github.com/akz4ol/toolsgateway/internal/middleware"
	"github.com/akz4ol/toolsgateway/internal/tracing"
)

// ToolAuthorizer is the subset of rbac.Engine the MCP handler needs to
// gate tools/call.
type ToolAuthorizer interface {
	CanExecuteTool(ctx context.Context, userID, serverID, toolName string) (bool, error)
}

// ServerLookup resolves a backend server URL to its registered id, so
// an authorization check can be scoped per-server rather than per-URL.
type ServerLookup interface {
	ListServers(ctx context.Context) ([]*domain.BackendServer, error)
}

// ToolLocator is the subset of discovery.Service the MCP handler needs
// to route a tools/call to the backend that hosts it.
type ToolLocator interface {
	GetToolLocation(ctx context.Context, toolName string) (string, error)
	GetAllTools(ctx context.Context) ([]mcprpc.ToolDescriptor, error)
}

// ToolCaller is the subset of backend.Manager the MCP handler needs to
// actually dispatch a call once it has been authorized and located.
type ToolCaller interface {
	CallTool(ctx context.Context, serverURL, toolName string, args map[string]interface{}) (map[string]interface{}, error)
}

// MCPHandler implements the gateway's single upstream-facing JSON-RPC
// endpoint: every client speaks MCP to the gateway exactly as it would
// to a single backend server, and the gateway fans each call out to
// whichever registered backend actually hosts the named tool.
type MCPHandler struct {
	discovery ToolLocator
	backend   ToolCaller
	rbac      ToolAuthorizer
	servers   ServerLookup
	logger    zerolog.Logger
}

func NewMCPHandler(discovery ToolLocator, backend ToolCaller, rbacEngine ToolAuthorizer, servers ServerLookup, logger zerolog.Logger) *MCPHandler {
	return &MCPHandler{discovery: discovery, backend: backend, rbac: rbacEngine, servers: servers, logger: logger}
}

// ServeHTTP implements the MCP JSON-RPC endpoint. A client must
// authenticate before any request reaches here; middleware.Auth sets
// the AuthInfo this handler relies on for tools/call authorization.
func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req mcprpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, mcprpc.NewError(nil, mcprpc.CodeParseError, "invalid JSON-RPC request body"))
		return
	}

	switch req.Method {
	case "initialize":
		h.handleInitialize(w, req)
	case "notifications/initialized":
		// A notification carries no id and expects no response.
		w.WriteHeader(http.StatusAccepted)
	case "tools/list":
		h.handleToolsList(w, r, req)
	case "tools/call":
		h.handleToolsCall(w, r, req)
	default:
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeMethodNotFound, "method not found: "+req.Method))
	}
}

func (h *MCPHandler) handleInitialize(w http.ResponseWriter, req mcprpc.Request) {
	w.Header().Set("Mcp-Session-Id", newSessionID())
	result := mcprpc.InitializeResult{
		ProtocolVersion: mcprpc.ProtocolVersion,
		Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
		ServerInfo:      mcprpc.GatewayClientInfo,
	}
	writeRPC(w, mcprpc.NewResult(req.ID, result))
}

// handleToolsList answers from the live discovery index rather than
// fanning out to every backend per request: the index is kept current
// by discovery.Service.RefreshToolIndex on its own schedule.
func (h *MCPHandler) handleToolsList(w http.ResponseWriter, r *http.Request, req mcprpc.Request) {
	tools, err := h.discovery.GetAllTools(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("mcp: tools/list failed")
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeInternalError, "failed to list tools"))
		return
	}
	writeRPC(w, mcprpc.NewResult(req.ID, mcprpc.ToolsListResult{Tools: tools}))
}

func (h *MCPHandler) handleToolsCall(w http.ResponseWriter, r *http.Request, req mcprpc.Request) {
	info := middleware.GetAuthInfo(r.Context())
	if info == nil {
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeAccessDenied, gwerrors.ErrAuthMissing.Error()))
		return
	}

	var params mcprpc.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeInvalidParams, "tool name is required"))
		return
	}

	ctx, span := tracing.Tracer("toolsgateway").Start(r.Context(), "tools/call")
	defer span.End()
	span.SetAttributes(tracing.ToolCallAttributes("", params.Name)...)

	serverURL, err := h.discovery.GetToolLocation(ctx, params.Name)
	if err != nil {
		if errors.Is(err, gwerrors.ErrToolNotFound) {
			writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeMethodNotFound, "tool not found: "+params.Name))
			return
		}
		h.logger.Error().Err(err).Str("tool", params.Name).Msg("mcp: tool lookup failed")
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeInternalError, "failed to locate tool"))
		return
	}

	serverID, err := h.serverIDForURL(ctx, serverURL)
	if err != nil {
		h.logger.Error().Err(err).Str("server_url", serverURL).Msg("mcp: server lookup failed")
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeInternalError, "failed to resolve backend server"))
		return
	}

	allowed, err := h.rbac.CanExecuteTool(ctx, info.UserID, serverID, params.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", info.UserID).Str("tool", params.Name).Msg("mcp: rbac check failed")
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeInternalError, "failed to verify permissions"))
		return
	}
	if !allowed {
		writeRPC(w, mcprpc.NewError(req.ID, mcprpc.CodeAccessDenied, gwerrors.ErrAccessDenied.Error()))
		return
	}

	result, err := h.backend.CallTool(ctx, serverURL, params.Name, params.Arguments)
	if err != nil {
		writeRPC(w, toolCallError(req.ID, err))
		return
	}
	writeRPC(w, mcprpc.NewResult(req.ID, result))
}

func (h *MCPHandler) serverIDForURL(ctx context.Context, serverURL string) (string, error) {
	servers, err := h.servers.ListServers(ctx)
	if err != nil {
		return "", err
	}
	for _, srv := range servers {
		if srv.URL == serverURL {
			return srv.ServerID, nil
		}
	}
	return "", gwerrors.ErrToolNotFound
}

// toolCallError translates a backend dispatch failure into a JSON-RPC
// error response. An application-level failure (the backend answered
// with its own JSON-RPC error object) is relayed verbatim rather than
// rewrapped; every other upstream kind maps to one of the gateway's own
// reserved error codes.
func toolCallError(id json.RawMessage, err error) *mcprpc.Response {
	var upstream *gwerrors.UpstreamError
	if errors.As(err, &upstream) {
		switch upstream.Kind {
		case gwerrors.UpstreamApplication:
			return &mcprpc.Response{JSONRPC: "2.0", ID: id, Error: upstreamErrorObject(upstream)}
		case gwerrors.UpstreamTimeout, gwerrors.UpstreamTransport:
			return mcprpc.NewError(id, mcprpc.CodeAccessDenied, upstream.Error())
		case gwerrors.UpstreamParse:
			return mcprpc.NewError(id, mcprpc.CodeUpstreamParseError, upstream.Error())
		}
	}
	return mcprpc.NewError(id, mcprpc.CodeInternalError, err.Error())
}

// upstreamErrorObject rebuilds the backend's own {code, message, data}
// error object from the AppError carried on upstream, so the client
// sees exactly what the backend sent rather than a gateway wrapper
// around it. Falls back to the gateway's reserved code if the backend
// error was somehow captured without one.
func upstreamErrorObject(upstream *gwerrors.UpstreamError) *mcprpc.ErrorObject {
	obj := &mcprpc.ErrorObject{Code: mcprpc.CodeUpstreamApplication, Message: upstream.Error()}
	if upstream.AppError == nil {
		return obj
	}
	if code, ok := upstream.AppError["code"]; ok {
		switch v := code.(type) {
		case int:
			obj.Code = v
		case float64:
			obj.Code = int(v)
		}
	}
	if msg, ok := upstream.AppError["message"].(string); ok {
		obj.Message = msg
	}
	if data, ok := upstream.AppError["data"]; ok {
		obj.Data = data
	}
	return obj
}

func writeRPC(w http.ResponseWriter, resp *mcprpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("mcp: failed to read random bytes: " + err.Error())
	}
	return "sess_" + base64.RawURLEncoding.EncodeToString(buf)
}

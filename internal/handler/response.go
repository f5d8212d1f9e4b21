// Package handler provides the gateway's REST surface: admin, auth, and
// health endpoints. The MCP JSON-RPC endpoint lives in mcp.go and speaks
// mcprpc's own envelope instead of this package's REST one.
package handler

import (
	"encoding/json"
	"net/http"
)

// traceIDHeader mirrors the header name middleware.Trace sets on every
// response before a handler runs (see internal/middleware/trace.go). It
// is duplicated here rather than imported because several middleware
// files already import handler for WriteError, and handler importing
// middleware back would cycle.
const traceIDHeader = "X-Trace-ID"

// ErrorResponse is the REST error envelope. TraceID lets an operator
// correlate a failed admin or auth call with the gateway's request log
// lines, which carry the same trace id.
type ErrorResponse struct {
	Error   ErrorDetail `json:"error"`
	TraceID string      `json:"trace_id,omitempty"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse is the REST success envelope.
type SuccessResponse struct {
	Data    interface{} `json:"data"`
	TraceID string      `json:"trace_id,omitempty"`
}

// WriteJSON writes a JSON response as-is, with no envelope. Handlers
// that already return a domain object (a role, a server, ...) use this
// directly rather than wrapping it a second time.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response, tagged with the request's trace
// id so it can be matched against the request's log lines.
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		TraceID: w.Header().Get(traceIDHeader),
	})
}

// WriteSuccess writes a 200 success envelope.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

// WriteSuccessStatus writes a success envelope with a custom status code.
func WriteSuccessStatus(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, SuccessResponse{
		Data:    data,
		TraceID: w.Header().Get(traceIDHeader),
	})
}

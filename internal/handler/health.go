package handler

import (
	"net/http"
	"time"

	"github.com/akz4ol/toolsgateway/internal/server"
)

// HealthChecker defines the interface for service health checks.
type HealthChecker interface {
	Health() bool
	Ready() bool
}

// HealthHandler handles liveness/readiness check endpoints. Each
// checker is named so a readiness failure tells an operator which
// dependency (store, backend pool, ...) is the cause.
type HealthHandler struct {
	checkers map[string]HealthChecker
}

// NewHealthHandler creates a new health handler over named checkers.
func NewHealthHandler(checkers map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// HealthResponse represents a liveness check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// ReadyResponse represents a readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health - liveness check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthy := true
	for _, checker := range h.checkers {
		if !checker.Health() {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    server.Uptime().String(),
	})
}

// Ready handles GET /ready - readiness check.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allReady := true

	for name, checker := range h.checkers {
		if checker.Ready() {
			checks[name] = "ready"
		} else {
			checks[name] = "not_ready"
			allReady = false
		}
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allReady {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	WriteJSON(w, httpStatus, ReadyResponse{
		Status: status,
		Checks: checks,
	})
}

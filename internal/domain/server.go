package domain

import (
	"strings"
	"time"
)

// BackendServer is an administratively registered MCP tool server. The
// transport kind is discriminated purely by the URL's path suffix: a
// trailing "/sse" means the long-lived SSE transport, anything else
// (typically "/mcp") means the short-lived HTTP-POST-with-session
// transport.
type BackendServer struct {
	ServerID string `json:"server_id"`
	URL      string `json:"url"`
	Enabled  bool   `json:"enabled"`
}

// IsSSE reports whether url uses the SSE transport.
func IsSSE(url string) bool {
	return strings.HasSuffix(url, "/sse")
}

// BackendHealth tracks a single backend's health state machine. After N
// (=3) consecutive failures IsHealthy flips false; any success resets
// ConsecutiveFailures to 0 and IsHealthy to true.
type BackendHealth struct {
	ServerURL           string
	LastSuccess         *time.Time
	LastCheck           *time.Time
	ConsecutiveFailures int
	IsHealthy           bool
	LastError           string
}

// UnhealthyThreshold is the consecutive-failure count that flips a
// backend unhealthy.
const UnhealthyThreshold = 3

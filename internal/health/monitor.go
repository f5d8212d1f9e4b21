// Package health tracks the liveness of every registered backend MCP
// server and implements the circuit-breaker policy the discovery
// service consults before fanning out a refresh.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// Checker performs a single liveness probe against a backend server.
type Checker interface {
	CheckHealth(ctx context.Context, serverURL string) error
}

// ServerLister supplies the current set of backend server URLs to check.
type ServerLister func(ctx context.Context) ([]string, error)

// Monitor tracks domain.BackendHealth per backend server URL and runs
// a periodic background check loop.
type Monitor struct {
	checker Checker
	logger  zerolog.Logger

	defaultTimeout       time.Duration
	degradedTimeout      time.Duration
	unhealthyRetryWindow time.Duration
	staleTimeout         time.Duration
	checkInterval        time.Duration

	mu     sync.RWMutex
	status map[string]*domain.BackendHealth

	// onChange, if set, is called after every MarkSuccess/MarkFailure
	// with a snapshot of the affected server's health, letting a
	// transport-layer subscriber (the admin status feed) react without
	// this package depending on it.
	onChange func(domain.BackendHealth)
}

// Config tunes Monitor's timeouts and check cadence.
type Config struct {
	CheckInterval        time.Duration
	StaleTimeout         time.Duration
	DefaultTimeout       time.Duration
	DegradedTimeout      time.Duration
	UnhealthyRetryWindow time.Duration
}

func New(checker Checker, cfg Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		checker:              checker,
		logger:               logger,
		defaultTimeout:       cfg.DefaultTimeout,
		degradedTimeout:      cfg.DegradedTimeout,
		unhealthyRetryWindow: cfg.UnhealthyRetryWindow,
		staleTimeout:         cfg.StaleTimeout,
		checkInterval:        cfg.CheckInterval,
		status:               make(map[string]*domain.BackendHealth),
	}
}

// OnChange registers fn to be called after every health-state update
// with a snapshot of the affected server's status.
func (m *Monitor) OnChange(fn func(domain.BackendHealth)) {
	m.onChange = fn
}

// MarkSuccess records a successful probe or call against serverURL.
func (m *Monitor) MarkSuccess(serverURL string) {
	now := time.Now()
	m.mu.Lock()
	h := m.entryLocked(serverURL)
	h.LastSuccess = &now
	h.LastCheck = &now
	h.ConsecutiveFailures = 0
	h.IsHealthy = true
	h.LastError = ""
	snapshot := *h
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

// MarkFailure records a failed probe or call against serverURL. A
// server flips unhealthy once it accumulates domain.UnhealthyThreshold
// consecutive failures.
func (m *Monitor) MarkFailure(serverURL string, cause error) {
	now := time.Now()
	m.mu.Lock()
	h := m.entryLocked(serverURL)
	h.LastCheck = &now
	h.ConsecutiveFailures++
	if cause != nil {
		h.LastError = cause.Error()
	}
	if h.ConsecutiveFailures >= domain.UnhealthyThreshold {
		h.IsHealthy = false
	}
	snapshot := *h
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

func (m *Monitor) entryLocked(serverURL string) *domain.BackendHealth {
	h, ok := m.status[serverURL]
	if !ok {
		h = &domain.BackendHealth{ServerURL: serverURL, IsHealthy: true}
		m.status[serverURL] = h
	}
	return h
}

// Status returns a copy of serverURL's current health record.
func (m *Monitor) Status(serverURL string) domain.BackendHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.status[serverURL]; ok {
		return *h
	}
	return domain.BackendHealth{ServerURL: serverURL, IsHealthy: true}
}

// AllStatus returns a snapshot of every tracked server's health.
func (m *Monitor) AllStatus() map[string]domain.BackendHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.BackendHealth, len(m.status))
	for url, h := range m.status {
		out[url] = *h
	}
	return out
}

// ShouldSkipUnhealthy reports whether serverURL should be excluded from
// a discovery fan-out: it's either flagged unhealthy, or it failed
// recently enough (within UnhealthyRetryWindow) that retrying now is
// unlikely to help.
func (m *Monitor) ShouldSkipUnhealthy(serverURL string) bool {
	m.mu.RLock()
	h, ok := m.status[serverURL]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if !h.IsHealthy {
		return true
	}
	if h.ConsecutiveFailures > 0 && h.LastCheck != nil {
		if time.Since(*h.LastCheck) < m.unhealthyRetryWindow {
			return true
		}
	}
	return false
}

// AdaptiveTimeout shortens the per-request timeout for a server that is
// currently failing, so a fan-out doesn't wait the full default timeout
// on every degraded backend.
func (m *Monitor) AdaptiveTimeout(serverURL string) time.Duration {
	m.mu.RLock()
	h, ok := m.status[serverURL]
	m.mu.RUnlock()
	if ok && h.ConsecutiveFailures > 0 {
		return m.degradedTimeout
	}
	return m.defaultTimeout
}

// IsStale reports whether serverURL hasn't had a successful probe
// within the monitor's stale timeout.
func (m *Monitor) IsStale(serverURL string) bool {
	m.mu.RLock()
	h, ok := m.status[serverURL]
	m.mu.RUnlock()
	if !ok || h.LastSuccess == nil {
		return true
	}
	return time.Since(*h.LastSuccess) > m.staleTimeout
}

// Run starts the periodic background health-check loop; it blocks
// until ctx is cancelled. lister is re-consulted on every tick so newly
// registered servers are picked up without a restart.
func (m *Monitor) Run(ctx context.Context, lister ServerLister) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx, lister)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context, lister ServerLister) {
	servers, err := lister(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("health: failed to list servers for check")
		return
	}

	var wg sync.WaitGroup
	for _, serverURL := range servers {
		serverURL := serverURL
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.checkOne(ctx, serverURL)
		}()
	}
	wg.Wait()
}

// checkOne probes serverURL if it's due for one. SSE backends are
// probed every tick, since a dropped initialize handshake needs prompt
// recovery. HTTP-POST backends only need probing once their last
// success goes stale; re-checking a backend that answered recently
// just burns a request against it for nothing.
func (m *Monitor) checkOne(ctx context.Context, serverURL string) {
	if !domain.IsSSE(serverURL) && !m.IsStale(serverURL) {
		return
	}

	timeout := m.AdaptiveTimeout(serverURL)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.checker.CheckHealth(checkCtx, serverURL); err != nil {
		m.logger.Warn().Err(err).Str("server", serverURL).Msg("health: check failed")
		m.MarkFailure(serverURL, err)
		return
	}
	m.MarkSuccess(serverURL)
}

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

type stubChecker struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (s *stubChecker) CheckHealth(_ context.Context, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[serverURL] {
		return errors.New("probe failed")
	}
	return nil
}

func (s *stubChecker) setFail(serverURL string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = make(map[string]bool)
	}
	s.fail[serverURL] = fail
}

func testConfig() Config {
	return Config{
		CheckInterval:        10 * time.Millisecond,
		StaleTimeout:         time.Minute,
		DefaultTimeout:       time.Second,
		DegradedTimeout:      100 * time.Millisecond,
		UnhealthyRetryWindow: 50 * time.Millisecond,
	}
}

func TestStatusDefaultsHealthyForUnknownServer(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())

	h := m.Status("http://unknown")
	if !h.IsHealthy {
		t.Fatalf("expected an unseen server to default to healthy")
	}
}

func TestMarkSuccessResetsFailureCount(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())

	m.MarkFailure("srv1", errors.New("boom"))
	m.MarkFailure("srv1", errors.New("boom"))
	m.MarkSuccess("srv1")

	h := m.Status("srv1")
	if h.ConsecutiveFailures != 0 || !h.IsHealthy || h.LastError != "" {
		t.Fatalf("expected a clean slate after MarkSuccess, got %+v", h)
	}
	if h.LastSuccess == nil {
		t.Fatalf("expected LastSuccess to be set")
	}
}

func TestMarkFailureFlipsUnhealthyAtThreshold(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())

	for i := 0; i < 2; i++ {
		m.MarkFailure("srv1", errors.New("boom"))
		if h := m.Status("srv1"); !h.IsHealthy {
			t.Fatalf("expected server to stay healthy before reaching the threshold, got %+v", h)
		}
	}

	m.MarkFailure("srv1", errors.New("boom"))
	h := m.Status("srv1")
	if h.IsHealthy {
		t.Fatalf("expected server to flip unhealthy at the threshold")
	}
	if h.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", h.ConsecutiveFailures)
	}
	if h.LastError != "boom" {
		t.Fatalf("expected LastError to be recorded, got %q", h.LastError)
	}
}

func TestShouldSkipUnhealthyUnseenServerIsNotSkipped(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())
	if m.ShouldSkipUnhealthy("http://unseen") {
		t.Fatalf("expected an unseen server not to be skipped")
	}
}

func TestShouldSkipUnhealthyAfterThreshold(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())
	for i := 0; i < 3; i++ {
		m.MarkFailure("srv1", errors.New("boom"))
	}
	if !m.ShouldSkipUnhealthy("srv1") {
		t.Fatalf("expected a server past the threshold to be skipped")
	}
}

func TestShouldSkipUnhealthyWithinRetryWindow(t *testing.T) {
	cfg := testConfig()
	cfg.UnhealthyRetryWindow = time.Minute
	m := New(&stubChecker{}, cfg, zerolog.Nop())

	m.MarkFailure("srv1", errors.New("boom"))
	if !m.ShouldSkipUnhealthy("srv1") {
		t.Fatalf("expected a single recent failure within the retry window to be skipped")
	}
}

func TestShouldSkipUnhealthyOutsideRetryWindowRetriesImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.UnhealthyRetryWindow = time.Nanosecond
	m := New(&stubChecker{}, cfg, zerolog.Nop())

	m.MarkFailure("srv1", errors.New("boom"))
	time.Sleep(time.Millisecond)
	if m.ShouldSkipUnhealthy("srv1") {
		t.Fatalf("expected a failure outside the retry window to be eligible for retry")
	}
}

func TestAdaptiveTimeoutShortensForDegradedServer(t *testing.T) {
	cfg := testConfig()
	m := New(&stubChecker{}, cfg, zerolog.Nop())

	if got := m.AdaptiveTimeout("srv1"); got != cfg.DefaultTimeout {
		t.Fatalf("expected default timeout for a healthy server, got %v", got)
	}

	m.MarkFailure("srv1", errors.New("boom"))
	if got := m.AdaptiveTimeout("srv1"); got != cfg.DegradedTimeout {
		t.Fatalf("expected degraded timeout after a failure, got %v", got)
	}
}

func TestIsStaleWithNoSuccessfulProbe(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())
	if !m.IsStale("http://unseen") {
		t.Fatalf("expected an unseen server to be stale")
	}

	m.MarkFailure("srv1", errors.New("boom"))
	if !m.IsStale("srv1") {
		t.Fatalf("expected a server with only failures to be stale")
	}

	m.MarkSuccess("srv1")
	if m.IsStale("srv1") {
		t.Fatalf("expected a server with a recent success not to be stale")
	}
}

func TestOnChangeFiresWithSnapshot(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())

	var mu sync.Mutex
	var seen []bool
	m.OnChange(func(h domain.BackendHealth) {
		mu.Lock()
		seen = append(seen, h.IsHealthy)
		mu.Unlock()
	})

	m.MarkSuccess("srv1")
	m.MarkFailure("srv1", errors.New("boom"))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || !seen[0] || !seen[1] {
		t.Fatalf("expected two onChange calls reflecting the transition, got %+v", seen)
	}
}

func TestAllStatusReturnsIndependentSnapshot(t *testing.T) {
	m := New(&stubChecker{}, testConfig(), zerolog.Nop())
	m.MarkSuccess("srv1")
	m.MarkSuccess("srv2")

	all := m.AllStatus()
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked servers, got %d", len(all))
	}

	m.MarkFailure("srv1", errors.New("boom"))
	if !all["srv1"].IsHealthy {
		t.Fatalf("expected the snapshot returned by AllStatus to be independent of later updates")
	}
}

func TestRunPicksUpNewlyListedServersAndChecksThem(t *testing.T) {
	checker := &stubChecker{}
	checker.setFail("bad", true)

	cfg := testConfig()
	m := New(checker, cfg, zerolog.Nop())

	lister := func(_ context.Context) ([]string, error) {
		return []string{"good", "bad"}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	go m.Run(ctx, lister)
	<-ctx.Done()

	if !m.Status("good").IsHealthy {
		t.Fatalf("expected a passing server to be marked healthy")
	}
	if m.Status("bad").ConsecutiveFailures == 0 {
		t.Fatalf("expected a failing server to have recorded failures")
	}
}

package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/mcprpc"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

type fakeBackendManager struct {
	mu           sync.Mutex
	toolsByURL   map[string][]mcprpc.ToolDescriptor
	errByURL     map[string]error
	disconnected []string
}

func (f *fakeBackendManager) ListTools(_ context.Context, serverURL string) ([]mcprpc.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errByURL[serverURL]; ok {
		return nil, err
	}
	return f.toolsByURL[serverURL], nil
}

func (f *fakeBackendManager) DisconnectSSE(serverURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, serverURL)
}

type fakeHealthTracker struct {
	mu      sync.Mutex
	skip    map[string]bool
	success []string
	failure []string
}

func (f *fakeHealthTracker) ShouldSkipUnhealthy(serverURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skip[serverURL]
}

func (f *fakeHealthTracker) AdaptiveTimeout(string) time.Duration { return time.Second }

func (f *fakeHealthTracker) MarkSuccess(serverURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success = append(f.success, serverURL)
}

func (f *fakeHealthTracker) MarkFailure(serverURL string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = append(f.failure, serverURL)
}

func TestRefreshToolIndexMergesAcrossServers(t *testing.T) {
	st := memory.New()
	if err := st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s1", URL: "http://s1", Enabled: true}); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	if err := st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s2", URL: "http://s2", Enabled: true}); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	backend := &fakeBackendManager{toolsByURL: map[string][]mcprpc.ToolDescriptor{
		"http://s1": {{Name: "tool.a"}},
		"http://s2": {{Name: "tool.b"}},
	}}
	health := &fakeHealthTracker{}

	svc := New(st, st, st, backend, health, zerolog.Nop())

	if err := svc.RefreshToolIndex(context.Background()); err != nil {
		t.Fatalf("RefreshToolIndex: %v", err)
	}

	urlA, err := svc.GetToolLocation(context.Background(), "tool.a")
	if err != nil || urlA != "http://s1" {
		t.Fatalf("expected tool.a on s1, got %q err=%v", urlA, err)
	}
	urlB, err := svc.GetToolLocation(context.Background(), "tool.b")
	if err != nil || urlB != "http://s2" {
		t.Fatalf("expected tool.b on s2, got %q err=%v", urlB, err)
	}

	if len(health.success) != 2 {
		t.Fatalf("expected both servers marked successful, got %v", health.success)
	}
}

func TestRefreshToolIndexSkipsUnhealthyAndDisabledServers(t *testing.T) {
	st := memory.New()
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s1", URL: "http://s1", Enabled: true})
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s2", URL: "http://s2", Enabled: false})

	backend := &fakeBackendManager{toolsByURL: map[string][]mcprpc.ToolDescriptor{
		"http://s1": {{Name: "tool.a"}},
		"http://s2": {{Name: "tool.b"}},
	}}
	health := &fakeHealthTracker{skip: map[string]bool{"http://s1": true}}

	svc := New(st, st, st, backend, health, zerolog.Nop())
	if err := svc.RefreshToolIndex(context.Background()); err != nil {
		t.Fatalf("RefreshToolIndex: %v", err)
	}

	if _, err := svc.GetToolLocation(context.Background(), "tool.a"); err == nil {
		t.Fatalf("expected tool.a to be absent: its server was marked unhealthy")
	}
	if _, err := svc.GetToolLocation(context.Background(), "tool.b"); err == nil {
		t.Fatalf("expected tool.b to be absent: its server is disabled")
	}
}

func TestRefreshToolIndexMarksFailureAndDisconnectsSSEOnError(t *testing.T) {
	st := memory.New()
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s1", URL: "http://s1/sse", Enabled: true})

	backend := &fakeBackendManager{errByURL: map[string]error{"http://s1/sse": errors.New("boom")}}
	health := &fakeHealthTracker{}

	svc := New(st, st, st, backend, health, zerolog.Nop())
	if err := svc.RefreshToolIndex(context.Background()); err != nil {
		t.Fatalf("RefreshToolIndex: %v", err)
	}

	if len(health.failure) != 1 || health.failure[0] != "http://s1/sse" {
		t.Fatalf("expected a recorded failure for the SSE server, got %v", health.failure)
	}
	if len(backend.disconnected) != 1 || backend.disconnected[0] != "http://s1/sse" {
		t.Fatalf("expected the failing SSE server to be disconnected, got %v", backend.disconnected)
	}
}

func TestGetToolLocationTriggersRefreshOnMiss(t *testing.T) {
	st := memory.New()
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s1", URL: "http://s1", Enabled: true})

	backend := &fakeBackendManager{toolsByURL: map[string][]mcprpc.ToolDescriptor{
		"http://s1": {{Name: "tool.a"}},
	}}
	svc := New(st, st, st, backend, &fakeHealthTracker{}, zerolog.Nop())

	url, err := svc.GetToolLocation(context.Background(), "tool.a")
	if err != nil {
		t.Fatalf("expected the initial miss to trigger a refresh that finds tool.a: %v", err)
	}
	if url != "http://s1" {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestGetToolLocationReturnsNotFoundAfterRefresh(t *testing.T) {
	st := memory.New()
	svc := New(st, st, st, &fakeBackendManager{}, &fakeHealthTracker{}, zerolog.Nop())

	if _, err := svc.GetToolLocation(context.Background(), "missing.tool"); err == nil {
		t.Fatalf("expected an error for a tool that no server hosts")
	}
}

func TestGetAllToolsAnnotatesServerOAuthAndRoles(t *testing.T) {
	st := memory.New()
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s1", URL: "http://s1", Enabled: true})
	st.CreateOAuthProvider(context.Background(), &domain.OAuthProvider{ProviderID: "google", Enabled: true})
	st.SetGrant(context.Background(), domain.RoleToolGrant{RoleID: "role1", ServerID: "s1", ToolName: "tool.a"})

	backend := &fakeBackendManager{toolsByURL: map[string][]mcprpc.ToolDescriptor{
		"http://s1": {{Name: "tool.a"}},
	}}
	svc := New(st, st, st, backend, &fakeHealthTracker{}, zerolog.Nop())

	if err := svc.RefreshToolIndex(context.Background()); err != nil {
		t.Fatalf("RefreshToolIndex: %v", err)
	}

	tools, err := svc.GetAllTools(context.Background())
	if err != nil {
		t.Fatalf("GetAllTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected exactly one tool, got %+v", tools)
	}
	tool := tools[0]
	if tool.ServerID != "s1" {
		t.Fatalf("expected tool annotated with server id s1, got %q", tool.ServerID)
	}
	if len(tool.OAuthProviders) != 1 || tool.OAuthProviders[0] != "google" {
		t.Fatalf("expected the enabled oauth provider to be listed, got %v", tool.OAuthProviders)
	}
	if len(tool.AccessRoles) != 1 || tool.AccessRoles[0] != "role1" {
		t.Fatalf("expected role1 to be listed as holding a grant, got %v", tool.AccessRoles)
	}
	if tool.DiscoveryTimestamp == "" {
		t.Fatalf("expected a discovery timestamp to be set after a refresh")
	}
}

func TestGetServerStatistics(t *testing.T) {
	st := memory.New()
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s1", URL: "http://s1", Enabled: true})
	st.CreateServer(context.Background(), &domain.BackendServer{ServerID: "s2", URL: "http://s2", Enabled: true})

	backend := &fakeBackendManager{toolsByURL: map[string][]mcprpc.ToolDescriptor{
		"http://s1": {{Name: "tool.a"}, {Name: "tool.b"}},
		"http://s2": {{Name: "tool.c"}},
	}}
	svc := New(st, st, st, backend, &fakeHealthTracker{}, zerolog.Nop())
	if err := svc.RefreshToolIndex(context.Background()); err != nil {
		t.Fatalf("RefreshToolIndex: %v", err)
	}

	stats := svc.GetServerStatistics()
	if stats.TotalServers != 2 || stats.TotalTools != 3 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if stats.ToolsByServer["http://s1"] != 2 || stats.ToolsByServer["http://s2"] != 1 {
		t.Fatalf("unexpected per-server breakdown: %+v", stats.ToolsByServer)
	}
}

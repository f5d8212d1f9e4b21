// Package discovery maintains the gateway's tool-name -> backend-server
// index and refreshes it by fanning out tools/list to every healthy,
// registered backend.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/mcprpc"
	"github.com/akz4ol/toolsgateway/internal/store"
	"github.com/akz4ol/toolsgateway/internal/tracing"
)

// Manager is the subset of backend.Manager the discovery service needs.
type Manager interface {
	ListTools(ctx context.Context, serverURL string) ([]mcprpc.ToolDescriptor, error)
	DisconnectSSE(serverURL string)
}

// HealthTracker is the subset of health.Monitor the discovery service
// needs to decide which servers to skip and how long to wait on them.
type HealthTracker interface {
	ShouldSkipUnhealthy(serverURL string) bool
	AdaptiveTimeout(serverURL string) time.Duration
	MarkSuccess(serverURL string)
	MarkFailure(serverURL string, cause error)
}

// Service owns the live tool index and the logic to (re)build it.
type Service struct {
	servers store.ServerStore
	grants  store.GrantStore
	oauth   store.OAuthStore
	backend Manager
	health  HealthTracker
	logger  zerolog.Logger

	refreshMu sync.Mutex

	mu          sync.RWMutex
	index       map[string]string // tool name -> server URL
	lastRefresh time.Time
}

func New(servers store.ServerStore, grants store.GrantStore, oauth store.OAuthStore, backend Manager, health HealthTracker, logger zerolog.Logger) *Service {
	return &Service{
		servers: servers,
		grants:  grants,
		oauth:   oauth,
		backend: backend,
		health:  health,
		logger:  logger,
		index:   make(map[string]string),
	}
}

// ListServerURLs is a health.ServerLister adapter: it returns every
// enabled backend server's URL.
func (s *Service) ListServerURLs(ctx context.Context) ([]string, error) {
	servers, err := s.servers.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(servers))
	for _, srv := range servers {
		if srv.Enabled {
			urls = append(urls, srv.URL)
		}
	}
	return urls, nil
}

// GetToolLocation returns the backend server URL hosting toolName. A
// miss triggers exactly one synchronous refresh before giving up, in
// case the index is merely stale rather than genuinely wrong.
func (s *Service) GetToolLocation(ctx context.Context, toolName string) (string, error) {
	s.mu.RLock()
	url, ok := s.index[toolName]
	s.mu.RUnlock()
	if ok {
		return url, nil
	}

	if err := s.RefreshToolIndex(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("discovery: refresh during tool lookup failed")
	}

	s.mu.RLock()
	url, ok = s.index[toolName]
	s.mu.RUnlock()
	if !ok {
		return "", gwerrors.ErrToolNotFound
	}
	return url, nil
}

// RefreshToolIndex rebuilds the tool-name -> server-URL index by
// fanning out tools/list to every registered, healthy backend
// concurrently. Only one refresh runs at a time; a caller that arrives
// while a refresh is running waits for it to finish and then runs its
// own refresh.
func (s *Service) RefreshToolIndex(ctx context.Context) error {
	ctx, span := tracing.Tracer("toolsgateway").Start(ctx, "discovery/refresh")
	defer span.End()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	servers, err := s.servers.ListServers(ctx)
	if err != nil {
		return err
	}

	type fetchResult struct {
		serverURL string
		tools     []mcprpc.ToolDescriptor
	}

	var wg sync.WaitGroup
	results := make(chan fetchResult, len(servers))

	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		if s.health.ShouldSkipUnhealthy(srv.URL) {
			continue
		}

		srv := srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			timeout := s.health.AdaptiveTimeout(srv.URL)
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			tools, err := s.backend.ListTools(fetchCtx, srv.URL)
			if err != nil {
				s.logger.Warn().Err(err).Str("server", srv.URL).Msg("discovery: tools/list failed")
				s.health.MarkFailure(srv.URL, err)
				if domain.IsSSE(srv.URL) {
					s.backend.DisconnectSSE(srv.URL)
				}
				return
			}
			s.health.MarkSuccess(srv.URL)
			results <- fetchResult{serverURL: srv.URL, tools: tools}
		}()
	}

	wg.Wait()
	close(results)

	// Last writer wins on a tool-name collision across servers; which
	// server "wins" depends on channel drain order, matching the
	// original's dict-assignment-in-a-loop semantics.
	newIndex := make(map[string]string)
	for res := range results {
		for _, tool := range res.tools {
			newIndex[tool.Name] = res.serverURL
		}
	}

	s.mu.Lock()
	s.index = newIndex
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	return nil
}

// GetAllTools returns every tool in the current index whose server the
// health tracker is not currently skipping as unhealthy, enriched with
// gateway annotation fields computed fresh from the store rather than
// cached on the tool object: which server it lives on, which OAuth
// providers are available, and which roles may execute it.
func (s *Service) GetAllTools(ctx context.Context) ([]mcprpc.ToolDescriptor, error) {
	s.mu.RLock()
	snapshot := make(map[string]string, len(s.index))
	for name, url := range s.index {
		snapshot[name] = url
	}
	discoveredAt := s.lastRefresh
	s.mu.RUnlock()

	var discoveryTimestamp string
	if !discoveredAt.IsZero() {
		discoveryTimestamp = discoveredAt.UTC().Format(time.RFC3339)
	}

	servers, err := s.servers.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	urlToID := make(map[string]string, len(servers))
	for _, srv := range servers {
		urlToID[srv.URL] = srv.ServerID
	}

	providers, err := s.oauth.ListOAuthProviders(ctx)
	if err != nil {
		return nil, err
	}
	var providerIDs []string
	for _, p := range providers {
		if p.Enabled {
			providerIDs = append(providerIDs, p.ProviderID)
		}
	}

	out := make([]mcprpc.ToolDescriptor, 0, len(snapshot))
	for name, url := range snapshot {
		if s.health.ShouldSkipUnhealthy(url) {
			continue
		}
		serverID := urlToID[url]
		roles, err := s.accessRolesForTool(ctx, serverID, name)
		if err != nil {
			s.logger.Debug().Err(err).Str("tool", name).Msg("discovery: access-role lookup failed")
		}
		out = append(out, mcprpc.ToolDescriptor{
			Name:               name,
			ServerID:           serverID,
			ServerURL:          url,
			DiscoveryTimestamp: discoveryTimestamp,
			OAuthProviders:     providerIDs,
			AccessRoles:        roles,
		})
	}
	return out, nil
}

// accessRolesForTool returns the role ids holding an explicit grant for
// toolName on serverID.
func (s *Service) accessRolesForTool(ctx context.Context, serverID, toolName string) ([]string, error) {
	grants, err := s.grants.GrantsForServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	var roles []string
	seen := make(map[string]struct{})
	for _, g := range grants {
		if g.ToolName != toolName {
			continue
		}
		if _, ok := seen[g.RoleID]; ok {
			continue
		}
		seen[g.RoleID] = struct{}{}
		roles = append(roles, g.RoleID)
	}
	return roles, nil
}

// ServerStatistics summarizes the discovery index for the admin surface.
type ServerStatistics struct {
	TotalServers int            `json:"total_servers"`
	TotalTools   int            `json:"total_tools"`
	ToolsByServer map[string]int `json:"tools_by_server"`
}

// GetServerStatistics summarizes the current index.
func (s *Service) GetServerStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byServer := make(map[string]int)
	for _, url := range s.index {
		byServer[url]++
	}
	return ServerStatistics{
		TotalServers:  len(byServer),
		TotalTools:    len(s.index),
		ToolsByServer: byServer,
	}
}

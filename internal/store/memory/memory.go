// Package memory is an in-process Store implementation backed by plain
// maps. It exists primarily for tests, and as a zero-dependency default
// the gateway can boot against before an operator points it at Postgres.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	usersByID    map[string]*domain.User
	rolesByID    map[string]*domain.Role
	grants       map[string]map[string]map[string]struct{} // roleID -> serverID -> toolName
	servers      map[string]*domain.BackendServer
	providers    map[string]*domain.OAuthProvider
	groupMapping map[string]map[string]string // providerID -> groupName -> roleID
}

func New() *Store {
	return &Store{
		usersByID:    make(map[string]*domain.User),
		rolesByID:    make(map[string]*domain.Role),
		grants:       make(map[string]map[string]map[string]struct{}),
		servers:      make(map[string]*domain.BackendServer),
		providers:    make(map[string]*domain.OAuthProvider),
		groupMapping: make(map[string]map[string]string),
	}
}

// --- users ---

func (s *Store) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, errNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	norm := domain.NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.usersByID {
		if domain.NormalizeEmail(u.Email) == norm {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, errNotFound)
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.usersByID[u.UserID] = &cp
	return nil
}

func (s *Store) UpdateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByID[u.UserID]; !ok {
		return fmt.Errorf("user %s: %w", u.UserID, errNotFound)
	}
	cp := *u
	s.usersByID[u.UserID] = &cp
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usersByID, userID)
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UsersWithRole(_ context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, u := range s.usersByID {
		for _, r := range u.Roles {
			if r == roleID {
				out = append(out, u.UserID)
				break
			}
		}
	}
	return out, nil
}

// --- roles ---

func (s *Store) GetRole(_ context.Context, roleID string) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rolesByID[roleID]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", roleID, errNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRoles(_ context.Context) ([]*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Role, 0, len(s.rolesByID))
	for _, r := range s.rolesByID {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateRole(_ context.Context, r *domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	cp := *r
	s.rolesByID[r.RoleID] = &cp
	return nil
}

func (s *Store) UpdateRole(_ context.Context, r *domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rolesByID[r.RoleID]
	if !ok {
		return fmt.Errorf("role %s: %w", r.RoleID, errNotFound)
	}
	if existing.IsSystem {
		return fmt.Errorf("role %s is a system role and cannot be modified", r.RoleID)
	}
	r.UpdatedAt = time.Now()
	cp := *r
	s.rolesByID[r.RoleID] = &cp
	return nil
}

func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rolesByID[roleID]; ok && existing.IsSystem {
		return fmt.Errorf("role %s is a system role and cannot be deleted", roleID)
	}
	delete(s.rolesByID, roleID)
	delete(s.grants, roleID)
	return nil
}

// --- grants ---

func (s *Store) GrantsForRoleOnServer(_ context.Context, roleID, serverID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byServer, ok := s.grants[roleID]
	if !ok {
		// Role has no grants recorded anywhere: nil, not empty.
		return nil, nil
	}
	tools, ok := byServer[serverID]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, len(tools))
	for t := range tools {
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) RoleHasAnyGrant(_ context.Context, roleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byServer, ok := s.grants[roleID]
	if !ok {
		return false, nil
	}
	for _, tools := range byServer {
		if len(tools) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasGrant(_ context.Context, roleID, serverID, toolName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byServer, ok := s.grants[roleID]
	if !ok {
		return false, nil
	}
	tools, ok := byServer[serverID]
	if !ok {
		return false, nil
	}
	_, ok = tools[toolName]
	return ok, nil
}

func (s *Store) SetGrant(_ context.Context, g domain.RoleToolGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byServer, ok := s.grants[g.RoleID]
	if !ok {
		byServer = make(map[string]map[string]struct{})
		s.grants[g.RoleID] = byServer
	}
	tools, ok := byServer[g.ServerID]
	if !ok {
		tools = make(map[string]struct{})
		byServer[g.ServerID] = tools
	}
	tools[g.ToolName] = struct{}{}
	return nil
}

func (s *Store) RevokeGrant(_ context.Context, g domain.RoleToolGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byServer, ok := s.grants[g.RoleID]; ok {
		if tools, ok := byServer[g.ServerID]; ok {
			delete(tools, g.ToolName)
		}
	}
	return nil
}

func (s *Store) GrantsForServer(_ context.Context, serverID string) ([]domain.RoleToolGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoleToolGrant
	for roleID, byServer := range s.grants {
		tools, ok := byServer[serverID]
		if !ok {
			continue
		}
		for tool := range tools {
			out = append(out, domain.RoleToolGrant{RoleID: roleID, ServerID: serverID, ToolName: tool})
		}
	}
	return out, nil
}

// --- servers ---

func (s *Store) GetServer(_ context.Context, serverID string) (*domain.BackendServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", serverID, errNotFound)
	}
	cp := *sv
	return &cp, nil
}

func (s *Store) ListServers(_ context.Context) ([]*domain.BackendServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.BackendServer, 0, len(s.servers))
	for _, sv := range s.servers {
		cp := *sv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateServer(_ context.Context, sv *domain.BackendServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sv
	s.servers[sv.ServerID] = &cp
	return nil
}

func (s *Store) UpdateServer(_ context.Context, sv *domain.BackendServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[sv.ServerID]; !ok {
		return fmt.Errorf("server %s: %w", sv.ServerID, errNotFound)
	}
	cp := *sv
	s.servers[sv.ServerID] = &cp
	return nil
}

func (s *Store) DeleteServer(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, serverID)
	return nil
}

// --- oauth ---

func (s *Store) GetOAuthProvider(_ context.Context, providerID string) (*domain.OAuthProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("oauth provider %s: %w", providerID, errNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListOAuthProviders(_ context.Context) ([]*domain.OAuthProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.OAuthProvider, 0, len(s.providers))
	for _, p := range s.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateOAuthProvider(_ context.Context, p *domain.OAuthProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.providers[p.ProviderID] = &cp
	return nil
}

func (s *Store) UpdateOAuthProvider(_ context.Context, p *domain.OAuthProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ProviderID]; !ok {
		return fmt.Errorf("oauth provider %s: %w", p.ProviderID, errNotFound)
	}
	cp := *p
	s.providers[p.ProviderID] = &cp
	return nil
}

func (s *Store) DeleteOAuthProvider(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providers, providerID)
	delete(s.groupMapping, providerID)
	return nil
}

func (s *Store) RolesForGroups(_ context.Context, providerID string, groups []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.groupMapping[providerID]
	if !ok {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, g := range groups {
		roleID, ok := mapping[g]
		if !ok {
			continue
		}
		if _, dup := seen[roleID]; dup {
			continue
		}
		seen[roleID] = struct{}{}
		out = append(out, roleID)
	}
	return out, nil
}

func (s *Store) SetGroupMapping(_ context.Context, m domain.OAuthGroupMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byGroup, ok := s.groupMapping[m.ProviderID]
	if !ok {
		byGroup = make(map[string]string)
		s.groupMapping[m.ProviderID] = byGroup
	}
	byGroup[m.GroupName] = m.RoleID
	return nil
}

func (s *Store) DeleteGroupMapping(_ context.Context, providerID, groupName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byGroup, ok := s.groupMapping[providerID]; ok {
		delete(byGroup, groupName)
	}
	return nil
}

func (s *Store) ListGroupMappings(_ context.Context, providerID string) ([]domain.OAuthGroupMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byGroup, ok := s.groupMapping[providerID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.OAuthGroupMapping, 0, len(byGroup))
	for group, role := range byGroup {
		out = append(out, domain.OAuthGroupMapping{ProviderID: providerID, GroupName: group, RoleID: role})
	}
	return out, nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}

// ErrNotFound is returned (wrapped) by lookups that miss.
var ErrNotFound error = errNotFound

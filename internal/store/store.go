// Package store defines the opaque persistence contract the rest of the
// gateway depends on. The core only ever consumes CRUD by id/email plus
// a handful of targeted bulk queries; no business logic lives here.
package store

import (
	"context"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// Store is the full persistence surface required by the gateway core.
// Calls are synchronous from the caller's point of view (they may still
// do network I/O); implementations must be safe for concurrent use.
type Store interface {
	UserStore
	RoleStore
	GrantStore
	ServerStore
	OAuthStore
}

// UserStore covers user CRUD and the lookups RBAC/auth need.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	UpdateUser(ctx context.Context, u *domain.User) error
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context) ([]*domain.User, error)
	// UsersWithRole enumerates user ids carrying roleID; used as the
	// resolver for permission-cache role-scoped invalidation.
	UsersWithRole(ctx context.Context, roleID string) ([]string, error)
}

// RoleStore covers role CRUD.
type RoleStore interface {
	GetRole(ctx context.Context, roleID string) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	CreateRole(ctx context.Context, r *domain.Role) error
	UpdateRole(ctx context.Context, r *domain.Role) error
	DeleteRole(ctx context.Context, roleID string) error
}

// GrantStore covers per-role, per-server, per-tool execute grants.
type GrantStore interface {
	// GrantsForRoleOnServer returns the tool names role roleID may
	// execute on serverID. A nil slice (as opposed to an empty, non-nil
	// slice) means the role has no grants recorded anywhere, which the
	// RBAC engine treats specially (see get_user_allowed_tools).
	GrantsForRoleOnServer(ctx context.Context, roleID, serverID string) ([]string, error)
	// RoleHasAnyGrant reports whether roleID has any grant recorded on
	// any server at all.
	RoleHasAnyGrant(ctx context.Context, roleID string) (bool, error)
	HasGrant(ctx context.Context, roleID, serverID, toolName string) (bool, error)
	SetGrant(ctx context.Context, g domain.RoleToolGrant) error
	RevokeGrant(ctx context.Context, g domain.RoleToolGrant) error
	GrantsForServer(ctx context.Context, serverID string) ([]domain.RoleToolGrant, error)
}

// ServerStore covers backend server registration.
type ServerStore interface {
	GetServer(ctx context.Context, serverID string) (*domain.BackendServer, error)
	ListServers(ctx context.Context) ([]*domain.BackendServer, error)
	CreateServer(ctx context.Context, s *domain.BackendServer) error
	UpdateServer(ctx context.Context, s *domain.BackendServer) error
	DeleteServer(ctx context.Context, serverID string) error
}

// OAuthStore covers OAuth provider registration and group→role mappings.
type OAuthStore interface {
	GetOAuthProvider(ctx context.Context, providerID string) (*domain.OAuthProvider, error)
	ListOAuthProviders(ctx context.Context) ([]*domain.OAuthProvider, error)
	CreateOAuthProvider(ctx context.Context, p *domain.OAuthProvider) error
	UpdateOAuthProvider(ctx context.Context, p *domain.OAuthProvider) error
	DeleteOAuthProvider(ctx context.Context, providerID string) error

	// RolesForGroups resolves the role set mapped from a provider's
	// group claims.
	RolesForGroups(ctx context.Context, providerID string, groups []string) ([]string, error)
	SetGroupMapping(ctx context.Context, m domain.OAuthGroupMapping) error
	DeleteGroupMapping(ctx context.Context, providerID, groupName string) error
	ListGroupMappings(ctx context.Context, providerID string) ([]domain.OAuthGroupMapping, error)
}

// Package rbac implements the gateway's deny-by-default authorization
// policy: permission checks and per-tool execution grants, backed by a
// read-through cache over the store.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/rbaccache"
	"github.com/akz4ol/toolsgateway/internal/store"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

// Engine evaluates permission and tool-execution decisions for users.
type Engine struct {
	store  store.Store
	cache  *rbaccache.Cache
	logger zerolog.Logger
}

func New(st store.Store, cache *rbaccache.Cache, logger zerolog.Logger) *Engine {
	return &Engine{store: st, cache: cache, logger: logger}
}

// Bootstrap creates the admin role and, if no users exist yet, a default
// local admin user with a warned, change-me-now password.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if _, err := e.store.GetRole(ctx, domain.AdminRoleID); err != nil {
		adminRole := &domain.Role{
			RoleID:      domain.AdminRoleID,
			RoleName:    "Administrator",
			Description: "Full system access",
			Permissions: append([]domain.Permission{}, domain.AllPermissions...),
			IsSystem:    true,
		}
		if err := e.store.CreateRole(ctx, adminRole); err != nil {
			return fmt.Errorf("create default admin role: %w", err)
		}
		e.logger.Info().Msg("created default admin role")
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash default admin password: %w", err)
	}
	admin := &domain.User{
		UserID:       "user_admin",
		Email:        "admin",
		Name:         "Administrator",
		Provider:     "local",
		PasswordHash: string(hash),
		Roles:        []string{domain.AdminRoleID},
		Enabled:      true,
	}
	if err := e.store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("create default admin user: %w", err)
	}
	e.logger.Warn().Msg("default admin user created with email 'admin' and password 'admin' - change this immediately")
	return nil
}

// --- permission cache ---

func (e *Engine) getCachedPermissions(ctx context.Context, userID string) (*domain.CachedPermissions, error) {
	if cached, ok := e.cache.Get(userID); ok {
		return &cached, nil
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	isAdmin := false
	perms := make(map[domain.Permission]struct{})
	for _, roleID := range user.Roles {
		if roleID == domain.AdminRoleID {
			isAdmin = true
		}
		role, err := e.store.GetRole(ctx, roleID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("get role %s: %w", roleID, err)
		}
		for _, p := range role.Permissions {
			perms[p] = struct{}{}
		}
	}

	_, hasExecute := perms[domain.PermToolExecute]
	_, hasManage := perms[domain.PermToolManage]

	cached := domain.CachedPermissions{
		Enabled:        user.Enabled,
		Roles:          user.Roles,
		IsAdmin:        isAdmin,
		Permissions:    perms,
		HasToolExecute: hasExecute || isAdmin,
		HasToolManage:  hasManage || isAdmin,
		Email:          user.Email,
	}
	e.cache.Set(userID, cached)
	return &cached, nil
}

func (e *Engine) invalidateUser(userID string) {
	e.cache.InvalidateUser(userID)
}

func (e *Engine) invalidateRole(ctx context.Context, roleID string) {
	e.cache.InvalidateByRole(roleID, func(rid string) ([]string, error) {
		return e.store.UsersWithRole(ctx, rid)
	})
}

// --- permission checks ---

// HasPermission reports whether userID carries perm, admin included.
func (e *Engine) HasPermission(ctx context.Context, userID string, perm domain.Permission) (bool, error) {
	cached, err := e.getCachedPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	if cached == nil || !cached.Enabled {
		return false, nil
	}
	if cached.IsAdmin {
		return true, nil
	}
	return cached.Has(perm), nil
}

// CanExecuteTool implements the deny-by-default policy: admin is always
// allowed; everyone else needs tool:execute, after which tool:manage
// allows any tool and otherwise an explicit grant from one of the
// user's roles is required.
func (e *Engine) CanExecuteTool(ctx context.Context, userID, serverID, toolName string) (bool, error) {
	cached, err := e.getCachedPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	if cached == nil || !cached.Enabled {
		return false, nil
	}
	if cached.IsAdmin {
		return true, nil
	}
	if !cached.HasToolExecute {
		return false, nil
	}
	if cached.HasToolManage {
		return true, nil
	}

	for _, roleID := range cached.Roles {
		tools, err := e.store.GrantsForRoleOnServer(ctx, roleID, serverID)
		if err != nil {
			return false, fmt.Errorf("grants for role %s: %w", roleID, err)
		}
		for _, t := range tools {
			if t == toolName {
				return true, nil
			}
		}
	}

	e.logger.Info().
		Str("user", cached.Email).
		Str("server_id", serverID).
		Str("tool", toolName).
		Msg("rbac: denied tool execution")
	return false, nil
}

// GetUserAllowedTools returns the tool names userID may execute on
// serverID, or nil to mean "all tools" (admin, tool:manage, or a role
// with zero grants recorded anywhere - a legacy quirk carried forward
// deliberately: an operator who never bothered to scope a role's grants
// is treated as having left it unrestricted, not locked out).
func (e *Engine) GetUserAllowedTools(ctx context.Context, userID, serverID string) ([]string, error) {
	cached, err := e.getCachedPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cached == nil || !cached.Enabled {
		return []string{}, nil
	}
	if cached.IsAdmin || cached.HasToolManage {
		return nil, nil
	}

	allowed := make(map[string]struct{})
	hasRestrictions := false

	for _, roleID := range cached.Roles {
		tools, err := e.store.GrantsForRoleOnServer(ctx, roleID, serverID)
		if err != nil {
			return nil, fmt.Errorf("grants for role %s: %w", roleID, err)
		}
		if len(tools) > 0 {
			hasRestrictions = true
			for _, t := range tools {
				allowed[t] = struct{}{}
			}
			continue
		}
		hasAny, err := e.store.RoleHasAnyGrant(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("role has any grant %s: %w", roleID, err)
		}
		if !hasAny {
			return nil, nil
		}
	}

	if !hasRestrictions {
		return []string{}, nil
	}
	out := make([]string, 0, len(allowed))
	for t := range allowed {
		out = append(out, t)
	}
	return out, nil
}

// --- role management ---

var roleIDSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

func slugifyRoleID(roleName string) string {
	lowered := strings.ToLower(roleName)
	lowered = strings.ReplaceAll(lowered, " ", "_")
	lowered = strings.ReplaceAll(lowered, "-", "_")
	return roleIDSanitizer.ReplaceAllString(lowered, "")
}

func (e *Engine) CreateRole(ctx context.Context, roleName, description string, perms []domain.Permission) (*domain.Role, error) {
	roleID := slugifyRoleID(roleName)
	if roleID == "" {
		roleID = "role_" + randomSuffix()
	}
	role := &domain.Role{
		RoleID:      roleID,
		RoleName:    roleName,
		Description: description,
		Permissions: perms,
	}
	if err := e.store.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return role, nil
}

func (e *Engine) UpdateRole(ctx context.Context, roleID string, roleName, description *string, perms []domain.Permission) (*domain.Role, error) {
	existing, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	if existing.IsSystem {
		return nil, fmt.Errorf("role %s is a system role and cannot be modified", roleID)
	}
	if roleName != nil {
		existing.RoleName = *roleName
	}
	if description != nil {
		existing.Description = *description
	}
	if perms != nil {
		existing.Permissions = perms
	}
	if err := e.store.UpdateRole(ctx, existing); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	e.invalidateRole(ctx, roleID)
	return existing, nil
}

// DeleteRole invalidates the permission cache before deleting so the
// role's current member list can still be resolved.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	e.invalidateRole(ctx, roleID)
	if err := e.store.DeleteRole(ctx, roleID); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

func (e *Engine) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	return e.store.ListRoles(ctx)
}

func (e *Engine) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	return e.store.GetRole(ctx, roleID)
}

// --- tool grants ---

// GrantTool records that roleID may execute toolName on serverID.
func (e *Engine) GrantTool(ctx context.Context, roleID, serverID, toolName string) error {
	if _, err := e.store.GetRole(ctx, roleID); err != nil {
		return fmt.Errorf("get role: %w", err)
	}
	if err := e.store.SetGrant(ctx, domain.RoleToolGrant{RoleID: roleID, ServerID: serverID, ToolName: toolName}); err != nil {
		return fmt.Errorf("set grant: %w", err)
	}
	e.invalidateRole(ctx, roleID)
	return nil
}

// RevokeTool removes a previously granted tool execution right.
func (e *Engine) RevokeTool(ctx context.Context, roleID, serverID, toolName string) error {
	if err := e.store.RevokeGrant(ctx, domain.RoleToolGrant{RoleID: roleID, ServerID: serverID, ToolName: toolName}); err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	e.invalidateRole(ctx, roleID)
	return nil
}

// GrantsForServer lists every grant recorded against serverID, across
// all roles — the admin view of "who can run what here".
func (e *Engine) GrantsForServer(ctx context.Context, serverID string) ([]domain.RoleToolGrant, error) {
	return e.store.GrantsForServer(ctx, serverID)
}

// --- user management ---

func (e *Engine) CreateLocalUser(ctx context.Context, email, password, name string, roles []string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &domain.User{
		UserID:       "user_" + randomSuffix(),
		Email:        email,
		Name:         name,
		Provider:     "local",
		PasswordHash: string(hash),
		Roles:        roles,
		Enabled:      true,
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create local user: %w", err)
	}
	return u, nil
}

// AuthenticateLocalUser verifies email/password for a local-provider user.
func (e *Engine) AuthenticateLocalUser(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, gwerrors.ErrAuthInvalid
	}
	if u.Provider != "local" {
		return nil, gwerrors.ErrAuthInvalid
	}
	if !u.Enabled {
		return nil, gwerrors.ErrAuthDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, gwerrors.ErrAuthInvalid
	}
	return u, nil
}

func (e *Engine) AssignRole(ctx context.Context, userID, roleID string) error {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if _, err := e.store.GetRole(ctx, roleID); err != nil {
		return fmt.Errorf("get role: %w", err)
	}
	for _, r := range u.Roles {
		if r == roleID {
			return nil
		}
	}
	u.Roles = append(u.Roles, roleID)
	if err := e.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	e.invalidateUser(userID)
	return nil
}

func (e *Engine) RevokeRole(ctx context.Context, userID, roleID string) error {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	kept := u.Roles[:0]
	for _, r := range u.Roles {
		if r != roleID {
			kept = append(kept, r)
		}
	}
	u.Roles = kept
	if err := e.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	e.invalidateUser(userID)
	return nil
}

// SetUserEnabled toggles a user's enabled flag; this affects cached
// permissions so the cache is invalidated unconditionally.
func (e *Engine) SetUserEnabled(ctx context.Context, userID string, enabled bool) error {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	u.Enabled = enabled
	if err := e.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	e.invalidateUser(userID)
	return nil
}

func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	e.invalidateUser(userID)
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (e *Engine) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return e.store.GetUser(ctx, userID)
}

func (e *Engine) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return e.store.ListUsers(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, memory.ErrNotFound)
}

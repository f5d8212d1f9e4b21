package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/rbaccache"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cache := rbaccache.New(time.Minute, 1000, zerolog.Nop())
	return New(memory.New(), cache, zerolog.Nop())
}

func TestBootstrapCreatesAdminRoleAndUser(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	role, err := e.GetRole(ctx, domain.AdminRoleID)
	if err != nil {
		t.Fatalf("expected admin role to exist: %v", err)
	}
	if !role.IsSystem {
		t.Fatalf("expected admin role to be system")
	}

	users, err := e.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Email != "admin" {
		t.Fatalf("expected a single default admin user, got %+v", users)
	}

	// Bootstrap is idempotent: running again must not create a second
	// admin user.
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}
	users, _ = e.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("expected bootstrap to stay idempotent, got %d users", len(users))
	}
}

func TestHasPermissionAdminBypassesEverything(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	ok, err := e.HasPermission(ctx, "user_admin", domain.PermServerDelete)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatalf("expected admin to carry every permission")
	}
}

func TestHasPermissionDisabledUserIsDenied(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, "Viewer", "read only", []domain.Permission{domain.PermServerView})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := e.CreateLocalUser(ctx, "viewer@example.com", "pw", "Viewer", []string{role.RoleID})
	if err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}
	if err := e.SetUserEnabled(ctx, u.UserID, false); err != nil {
		t.Fatalf("SetUserEnabled: %v", err)
	}

	ok, err := e.HasPermission(ctx, u.UserID, domain.PermServerView)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatalf("expected disabled user to be denied")
	}
}

func TestCanExecuteToolRequiresExplicitGrant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, "Caller", "tool caller", []domain.Permission{domain.PermToolExecute})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := e.CreateLocalUser(ctx, "caller@example.com", "pw", "Caller", []string{role.RoleID})
	if err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}

	// No grant recorded anywhere for this role: the legacy "unrestricted"
	// quirk means an ungranted role is treated as all-access... but
	// CanExecuteTool itself checks a specific server/tool pair via
	// GrantsForRoleOnServer, which returns nil for "no grants recorded
	// anywhere", not an allow-all signal at this layer (that quirk only
	// applies to GetUserAllowedTools).
	allowed, err := e.CanExecuteTool(ctx, u.UserID, "srv1", "tool.a")
	if err != nil {
		t.Fatalf("CanExecuteTool: %v", err)
	}
	if allowed {
		t.Fatalf("expected no access without an explicit grant")
	}

	if err := e.GrantTool(ctx, role.RoleID, "srv1", "tool.a"); err != nil {
		t.Fatalf("GrantTool: %v", err)
	}

	allowed, err = e.CanExecuteTool(ctx, u.UserID, "srv1", "tool.a")
	if err != nil {
		t.Fatalf("CanExecuteTool: %v", err)
	}
	if !allowed {
		t.Fatalf("expected access after an explicit grant")
	}

	allowed, err = e.CanExecuteTool(ctx, u.UserID, "srv1", "tool.b")
	if err != nil {
		t.Fatalf("CanExecuteTool: %v", err)
	}
	if allowed {
		t.Fatalf("expected no access to an ungranted tool on the same server")
	}
}

func TestCanExecuteToolWithoutToolExecutePermissionIsDenied(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, "NoExecute", "no tool:execute", nil)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := e.CreateLocalUser(ctx, "ne@example.com", "pw", "NoExecute", []string{role.RoleID})
	if err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}
	if err := e.GrantTool(ctx, role.RoleID, "srv1", "tool.a"); err != nil {
		t.Fatalf("GrantTool: %v", err)
	}

	allowed, err := e.CanExecuteTool(ctx, u.UserID, "srv1", "tool.a")
	if err != nil {
		t.Fatalf("CanExecuteTool: %v", err)
	}
	if allowed {
		t.Fatalf("expected tool:execute to be required even with a matching grant")
	}
}

func TestGetUserAllowedToolsUnrestrictedWhenRoleHasNoGrants(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, "Unscoped", "never scoped", []domain.Permission{domain.PermToolExecute})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := e.CreateLocalUser(ctx, "unscoped@example.com", "pw", "Unscoped", []string{role.RoleID})
	if err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}

	tools, err := e.GetUserAllowedTools(ctx, u.UserID, "srv1")
	if err != nil {
		t.Fatalf("GetUserAllowedTools: %v", err)
	}
	if tools != nil {
		t.Fatalf("expected nil (unrestricted) for a role with zero recorded grants, got %v", tools)
	}
}

func TestGetUserAllowedToolsScopedOnceARoleHasAnyGrant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, "Scoped", "scoped", []domain.Permission{domain.PermToolExecute})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := e.CreateLocalUser(ctx, "scoped@example.com", "pw", "Scoped", []string{role.RoleID})
	if err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}
	if err := e.GrantTool(ctx, role.RoleID, "srv1", "tool.a"); err != nil {
		t.Fatalf("GrantTool: %v", err)
	}

	tools, err := e.GetUserAllowedTools(ctx, u.UserID, "srv1")
	if err != nil {
		t.Fatalf("GetUserAllowedTools: %v", err)
	}
	if len(tools) != 1 || tools[0] != "tool.a" {
		t.Fatalf("expected exactly [tool.a], got %v", tools)
	}

	// A grant on a different server doesn't unscope srv2: srv2 has no
	// grants recorded for this role, but the role overall "has any
	// grant", so GrantsForRoleOnServer(srv2) returning empty means
	// zero tools there rather than unrestricted.
	tools, err = e.GetUserAllowedTools(ctx, u.UserID, "srv2")
	if err != nil {
		t.Fatalf("GetUserAllowedTools: %v", err)
	}
	if len(tools) != 0 {
		t.Fatalf("expected no tools on an unrelated server, got %v", tools)
	}
}

func TestAuthenticateLocalUserRejectsWrongPassword(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateLocalUser(ctx, "pw@example.com", "correct-horse", "PW", nil); err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}

	if _, err := e.AuthenticateLocalUser(ctx, "pw@example.com", "wrong"); err == nil {
		t.Fatalf("expected authentication to fail with the wrong password")
	}

	u, err := e.AuthenticateLocalUser(ctx, "pw@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("expected authentication to succeed: %v", err)
	}
	if u.Email != "pw@example.com" {
		t.Fatalf("unexpected authenticated user: %+v", u)
	}
}

func TestAssignAndRevokeRoleInvalidatesCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	role, err := e.CreateRole(ctx, "Extra", "extra role", []domain.Permission{domain.PermAuditView})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := e.CreateLocalUser(ctx, "assign@example.com", "pw", "Assign", nil)
	if err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}

	ok, err := e.HasPermission(ctx, u.UserID, domain.PermAuditView)
	if err != nil || ok {
		t.Fatalf("expected no audit:view before role assignment, got ok=%v err=%v", ok, err)
	}

	if err := e.AssignRole(ctx, u.UserID, role.RoleID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	ok, err = e.HasPermission(ctx, u.UserID, domain.PermAuditView)
	if err != nil || !ok {
		t.Fatalf("expected audit:view after role assignment, got ok=%v err=%v", ok, err)
	}

	if err := e.RevokeRole(ctx, u.UserID, role.RoleID); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	ok, err = e.HasPermission(ctx, u.UserID, domain.PermAuditView)
	if err != nil || ok {
		t.Fatalf("expected audit:view revoked, got ok=%v err=%v", ok, err)
	}
}

func TestUpdateSystemRoleIsRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	name := "Renamed"
	if _, err := e.UpdateRole(ctx, domain.AdminRoleID, &name, nil, nil); err == nil {
		t.Fatalf("expected updating the system admin role to fail")
	}
}

package domain

import "time"

// Permission is a member of the gateway's fixed, closed permission
// vocabulary. Unlike a free-form string, every valid value is declared
// below; callers should validate against AllPermissions rather than
// constructing arbitrary values.
type Permission string

const (
	PermServerView   Permission = "server:view"
	PermServerAdd    Permission = "server:add"
	PermServerEdit   Permission = "server:edit"
	PermServerDelete Permission = "server:delete"
	PermServerTest   Permission = "server:test"

	PermToolView    Permission = "tool:view"
	PermToolExecute Permission = "tool:execute"
	PermToolManage  Permission = "tool:manage"

	PermConfigView Permission = "config:view"
	PermConfigEdit Permission = "config:edit"

	PermUserView   Permission = "user:view"
	PermUserManage Permission = "user:manage"

	PermRoleView   Permission = "role:view"
	PermRoleManage Permission = "role:manage"

	PermAuditView Permission = "audit:view"

	PermOAuthManage Permission = "oauth:manage"
)

// AllPermissions enumerates the closed permission set.
var AllPermissions = []Permission{
	PermServerView, PermServerAdd, PermServerEdit, PermServerDelete, PermServerTest,
	PermToolView, PermToolExecute, PermToolManage,
	PermConfigView, PermConfigEdit,
	PermUserView, PermUserManage,
	PermRoleView, PermRoleManage,
	PermAuditView,
	PermOAuthManage,
}

// IsValidPermission reports whether p belongs to the closed set.
func IsValidPermission(p Permission) bool {
	for _, v := range AllPermissions {
		if v == p {
			return true
		}
	}
	return false
}

// AdminRoleID is the stable slug of the system admin role: ineradicable,
// implies every permission.
const AdminRoleID = "admin"

// Role is a named bundle of permissions. The admin role is system and
// cannot be edited or deleted.
type Role struct {
	RoleID      string       `json:"role_id"`
	RoleName    string       `json:"role_name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	IsSystem    bool         `json:"is_system"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasPermission reports whether the role carries perm exactly (the
// permission set is closed and flat; there is no wildcard matching —
// "implies all permissions" for admin is handled by the RBAC engine's
// is_admin flag, not by a Permission value).
func (r *Role) HasPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// RoleToolGrant records that a role may execute a specific tool on a
// specific backend server. Presence grants; absence denies.
type RoleToolGrant struct {
	RoleID   string `json:"role_id"`
	ServerID string `json:"server_id"`
	ToolName string `json:"tool_name"`
}

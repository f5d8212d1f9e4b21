package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/handler"
)

// PermissionChecker is the subset of rbac.Engine the middleware needs.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID string, perm domain.Permission) (bool, error)
}

// RBAC provides deny-by-default permission checks as HTTP middleware,
// layered on top of Auth/OptionalAuth's AuthInfo context value.
type RBAC struct {
	engine PermissionChecker
	logger zerolog.Logger
}

func NewRBAC(engine PermissionChecker, logger zerolog.Logger) *RBAC {
	return &RBAC{engine: engine, logger: logger}
}

// RequirePermission rejects the request unless the authenticated user
// holds perm.
func (m *RBAC) RequirePermission(perm domain.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetAuthInfo(r.Context())
			if info == nil {
				handler.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			ok, err := m.engine.HasPermission(r.Context(), info.UserID, perm)
			if err != nil {
				m.logger.Error().Err(err).Str("user_id", info.UserID).Str("permission", string(perm)).Msg("rbac: permission check failed")
				handler.WriteError(w, http.StatusInternalServerError, "internal_error", "failed to verify permissions")
				return
			}
			if !ok {
				handler.WriteError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission rejects the request unless the user holds at
// least one of perms.
func (m *RBAC) RequireAnyPermission(perms ...domain.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetAuthInfo(r.Context())
			if info == nil {
				handler.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			for _, perm := range perms {
				ok, err := m.engine.HasPermission(r.Context(), info.UserID, perm)
				if err != nil {
					continue
				}
				if ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			handler.WriteError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		})
	}
}

// RequireAdmin rejects the request unless the user holds the
// role-manage permission, the closest analogue to a superuser bit in
// the closed permission vocabulary.
func (m *RBAC) RequireAdmin() func(http.Handler) http.Handler {
	return m.RequirePermission(domain.PermRoleManage)
}

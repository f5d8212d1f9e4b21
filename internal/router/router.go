// Package router wires the gateway's chi mux: the single upstream MCP
// endpoint, the admin CRUD surface, login, audit, health, and the
// admin live-status WebSocket feed.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/adminfeed"
	"github.com/akz4ol/toolsgateway/internal/config"
	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/handler"
	"github.com/akz4ol/toolsgateway/internal/middleware"
)

// Dependencies holds every handler and middleware the router needs.
// Each field is the narrow interface the consuming handler/middleware
// declares, so router only depends on already-adapted packages.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger

	TokenVerifier middleware.TokenVerifier
	UserLookup    middleware.UserLookup
	RBACChecker   middleware.PermissionChecker
	RateLimiter   middleware.RateLimiter
	AuditLogger   middleware.AuditLogger

	MCPHandler    *handler.MCPHandler
	HealthHandler *handler.HealthHandler
	AuthHandler   *handler.AuthHandler
	UserHandler   *handler.UserHandler
	RoleHandler   *handler.RoleHandler
	ServerHandler *handler.ServerHandler
	OAuthHandler  *handler.OAuthHandler
	AuditHandler  *handler.AuditHandler

	AdminFeed *adminfeed.Hub
}

// New builds the fully configured HTTP handler.
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Trace())
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.RateLimit(deps.RateLimiter, deps.Config.RateLimit.DefaultRPM, deps.Logger))

	auth := middleware.Auth(deps.TokenVerifier, deps.UserLookup, deps.Logger)
	rbac := middleware.NewRBAC(deps.RBACChecker, deps.Logger)
	audit := middleware.Audit(deps.AuditLogger)

	r.Get("/health", deps.HealthHandler.Health)
	r.Get("/ready", deps.HealthHandler.Ready)

	// Upstream MCP surface: one JSON-RPC endpoint, exactly like talking
	// to a single backend server.
	r.With(auth).Post("/mcp", deps.MCPHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login/local", deps.AuthHandler.LocalLogin)
		r.Post("/login", deps.AuthHandler.StartOAuthLogin)
		r.Get("/callback", deps.AuthHandler.Callback)
		r.With(auth).Get("/user", deps.AuthHandler.CurrentUser)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth)
		r.Use(audit)

		r.Get("/ws/status", deps.AdminFeed.ServeHTTP)

		r.Route("/users", func(r chi.Router) {
			r.With(rbac.RequirePermission(domain.PermUserView)).Get("/", deps.UserHandler.ListUsers)
			r.With(rbac.RequirePermission(domain.PermUserManage)).Post("/", deps.UserHandler.CreateUser)
			r.With(rbac.RequirePermission(domain.PermUserView)).Get("/{userId}", deps.UserHandler.GetUser)
			r.With(rbac.RequirePermission(domain.PermUserManage)).Patch("/{userId}/enabled", deps.UserHandler.SetUserEnabled)
			r.With(rbac.RequirePermission(domain.PermUserManage)).Delete("/{userId}", deps.UserHandler.DeleteUser)
			r.With(rbac.RequirePermission(domain.PermUserManage)).Post("/{userId}/roles", deps.UserHandler.AssignRole)
			r.With(rbac.RequirePermission(domain.PermUserManage)).Delete("/{userId}/roles/{roleId}", deps.UserHandler.RevokeRole)
		})

		r.Route("/roles", func(r chi.Router) {
			r.With(rbac.RequirePermission(domain.PermRoleView)).Get("/", deps.RoleHandler.ListRoles)
			r.With(rbac.RequirePermission(domain.PermRoleManage)).Post("/", deps.RoleHandler.CreateRole)
			r.With(rbac.RequirePermission(domain.PermRoleView)).Get("/{roleId}", deps.RoleHandler.GetRole)
			r.With(rbac.RequirePermission(domain.PermRoleManage)).Put("/{roleId}", deps.RoleHandler.UpdateRole)
			r.With(rbac.RequirePermission(domain.PermRoleManage)).Delete("/{roleId}", deps.RoleHandler.DeleteRole)
			r.With(rbac.RequirePermission(domain.PermRoleManage)).Post("/{roleId}/grants", deps.RoleHandler.GrantTool)
			r.With(rbac.RequirePermission(domain.PermRoleManage)).Delete("/{roleId}/grants/{serverId}/{toolName}", deps.RoleHandler.RevokeTool)
		})

		r.Route("/servers", func(r chi.Router) {
			r.With(rbac.RequirePermission(domain.PermServerView)).Get("/", deps.ServerHandler.ListServers)
			r.With(rbac.RequirePermission(domain.PermServerAdd)).Post("/", deps.ServerHandler.CreateServer)
			r.With(rbac.RequirePermission(domain.PermServerView)).Get("/{serverId}", deps.ServerHandler.GetServer)
			r.With(rbac.RequirePermission(domain.PermServerEdit)).Put("/{serverId}", deps.ServerHandler.UpdateServer)
			r.With(rbac.RequirePermission(domain.PermServerDelete)).Delete("/{serverId}", deps.ServerHandler.DeleteServer)
			r.With(rbac.RequirePermission(domain.PermServerTest)).Post("/{serverId}/test", deps.ServerHandler.TestServer)
			r.With(rbac.RequirePermission(domain.PermServerView)).Get("/{serverId}/grants", deps.RoleHandler.ListServerGrants)
		})

		r.Route("/oauth/providers", func(r chi.Router) {
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Get("/", deps.OAuthHandler.ListProviders)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Post("/", deps.OAuthHandler.CreateProvider)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Get("/{providerId}", deps.OAuthHandler.GetProvider)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Put("/{providerId}", deps.OAuthHandler.UpdateProvider)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Delete("/{providerId}", deps.OAuthHandler.DeleteProvider)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Get("/{providerId}/groups", deps.OAuthHandler.ListGroupMappings)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Post("/{providerId}/groups", deps.OAuthHandler.SetGroupMapping)
			r.With(rbac.RequirePermission(domain.PermOAuthManage)).Delete("/{providerId}/groups/{groupName}", deps.OAuthHandler.DeleteGroupMapping)
		})

		r.Route("/audit", func(r chi.Router) {
			r.With(rbac.RequirePermission(domain.PermAuditView)).Get("/", deps.AuditHandler.List)
			r.With(rbac.RequirePermission(domain.PermAuditView)).Get("/search", deps.AuditHandler.Search)
			r.With(rbac.RequirePermission(domain.PermAuditView)).Get("/export", deps.AuditHandler.Export)
			r.With(rbac.RequirePermission(domain.PermAuditView)).Get("/stats", deps.AuditHandler.Stats)
		})
	})

	return r
}

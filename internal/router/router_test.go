package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/adminfeed"
	"github.com/akz4ol/toolsgateway/internal/audit"
	"github.com/akz4ol/toolsgateway/internal/auth"
	"github.com/akz4ol/toolsgateway/internal/backend"
	"github.com/akz4ol/toolsgateway/internal/config"
	"github.com/akz4ol/toolsgateway/internal/handler"
	"github.com/akz4ol/toolsgateway/internal/oauth"
	"github.com/akz4ol/toolsgateway/internal/ratelimit"
	"github.com/akz4ol/toolsgateway/internal/rbac"
	"github.com/akz4ol/toolsgateway/internal/rbaccache"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
	"github.com/akz4ol/toolsgateway/internal/token"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	st := memory.New()

	cfg := &config.Config{RateLimit: config.RateLimitConfig{DefaultRPM: 1000, Burst: 100}}

	cache := rbaccache.New(time.Minute, 1000, logger)
	rbacEngine := rbac.New(st, cache, logger)
	if err := rbacEngine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	tokens := token.New("test-signing-key", time.Hour, time.Minute)
	tokenVerifier := token.MiddlewareVerifier{Issuer: tokens}
	oauthRegistry := oauth.New(st, "test-encryption-key-000000000000", "http://localhost", nil, time.Minute)
	auditLogger := audit.NewLogger(logger)
	loginService := auth.New(st, cache, rbacEngine, oauthRegistry, tokens, auditLogger, false, "", logger)
	backendManager := backend.New(logger)
	limiter := ratelimit.NewLimiter(nil, logger)
	adminFeed := adminfeed.NewHub(logger)

	deps := Dependencies{
		Config:        cfg,
		Logger:        logger,
		TokenVerifier: tokenVerifier,
		UserLookup:    rbacEngine,
		RBACChecker:   rbacEngine,
		RateLimiter:   limiter,
		AuditLogger:   auditLogger,
		MCPHandler:    handler.NewMCPHandler(nil, backendManager, rbacEngine, st, logger),
		HealthHandler: handler.NewHealthHandler(map[string]handler.HealthChecker{}),
		AuthHandler:   handler.NewAuthHandler(loginService, rbacEngine, rbacEngine),
		UserHandler:   handler.NewUserHandler(logger, rbacEngine),
		RoleHandler:   handler.NewRoleHandler(rbacEngine),
		ServerHandler: handler.NewServerHandler(logger, st, backendManager),
		OAuthHandler:  handler.NewOAuthHandler(logger, st),
		AuditHandler:  handler.NewAuditHandler(auditLogger),
		AdminFeed:     adminFeed,
	}

	return New(deps)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected /health to be reachable without auth, got %d", w.Code)
	}
}

func TestMCPEndpointRequiresAuth(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected /mcp without a token to be rejected, got %d", w.Code)
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/users/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected an unauthenticated admin request to be rejected, got %d", w.Code)
	}
}

func TestLocalLoginRejectsBadJSON(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login/local", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatalf("expected a request with no body to fail local login, got %d", w.Code)
	}
}

func TestAdminRouteAcceptsValidBearerToken(t *testing.T) {
	logger := zerolog.Nop()
	st := memory.New()
	cfg := &config.Config{RateLimit: config.RateLimitConfig{DefaultRPM: 1000, Burst: 100}}
	cache := rbaccache.New(time.Minute, 1000, logger)
	rbacEngine := rbac.New(st, cache, logger)
	if err := rbacEngine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	tokens := token.New("test-signing-key", time.Hour, time.Minute)
	signed, err := tokens.Issue("user_admin", "admin", "local")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tokenVerifier := token.MiddlewareVerifier{Issuer: tokens}
	oauthRegistry := oauth.New(st, "test-encryption-key-000000000000", "http://localhost", nil, time.Minute)
	auditLogger := audit.NewLogger(logger)
	loginService := auth.New(st, cache, rbacEngine, oauthRegistry, tokens, auditLogger, false, "", logger)
	backendManager := backend.New(logger)
	limiter := ratelimit.NewLimiter(nil, logger)
	adminFeed := adminfeed.NewHub(logger)

	deps := Dependencies{
		Config:        cfg,
		Logger:        logger,
		TokenVerifier: tokenVerifier,
		UserLookup:    rbacEngine,
		RBACChecker:   rbacEngine,
		RateLimiter:   limiter,
		AuditLogger:   auditLogger,
		MCPHandler:    handler.NewMCPHandler(nil, backendManager, rbacEngine, st, logger),
		HealthHandler: handler.NewHealthHandler(map[string]handler.HealthChecker{}),
		AuthHandler:   handler.NewAuthHandler(loginService, rbacEngine, rbacEngine),
		UserHandler:   handler.NewUserHandler(logger, rbacEngine),
		RoleHandler:   handler.NewRoleHandler(rbacEngine),
		ServerHandler: handler.NewServerHandler(logger, st, backendManager),
		OAuthHandler:  handler.NewOAuthHandler(logger, st),
		AuditHandler:  handler.NewAuditHandler(auditLogger),
		AdminFeed:     adminFeed,
	}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/admin/users/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected the bootstrapped admin to access /admin/users/, got %d: %s", w.Code, w.Body.String())
	}
}

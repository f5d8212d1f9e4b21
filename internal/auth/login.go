// Package auth implements the gateway's login pipeline: local
// email/password authentication and the OAuth callback algorithm that
// glues the store, the RBAC engine, and the OAuth registry together.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/oauth"
	"github.com/akz4ol/toolsgateway/internal/rbac"
	"github.com/akz4ol/toolsgateway/internal/rbaccache"
	"github.com/akz4ol/toolsgateway/internal/store"
)

// AuditRecorder is the subset of the audit logger the login pipeline
// needs; kept as a narrow interface so auth doesn't depend on audit's
// delivery details.
type AuditRecorder interface {
	Log(ctx context.Context, entry domain.AuditLog)
}

// TokenIssuer is the subset of token.Issuer the login pipeline needs.
type TokenIssuer interface {
	Issue(userID, email, provider string) (string, error)
}

// Result is returned by a successful login, ready to hand to the HTTP
// layer for a redirect-with-token or a JSON response.
type Result struct {
	Token      string
	User       *domain.User
	RedirectTo string
}

// LoginService glues the RBAC engine, OAuth registry, and token issuer
// into the two login flows the gateway exposes: local email/password
// login and the OAuth authorization-code callback.
type LoginService struct {
	store               store.Store
	cache               *rbaccache.Cache
	rbacEngine          *rbac.Engine
	oauthRegistry       *oauth.Registry
	tokens              TokenIssuer
	audit               AuditRecorder
	logger              zerolog.Logger
	requireRoleForLogin bool
	defaultRedirect     string
}

func New(st store.Store, cache *rbaccache.Cache, rbacEngine *rbac.Engine, oauthRegistry *oauth.Registry, tokens TokenIssuer, audit AuditRecorder, requireRoleForLogin bool, defaultRedirect string, logger zerolog.Logger) *LoginService {
	return &LoginService{
		store:               st,
		cache:               cache,
		rbacEngine:          rbacEngine,
		oauthRegistry:       oauthRegistry,
		tokens:              tokens,
		audit:               audit,
		logger:              logger,
		requireRoleForLogin: requireRoleForLogin,
		defaultRedirect:     defaultRedirect,
	}
}

// LocalLogin verifies an email/password pair, updates last_login, and
// issues a token.
func (s *LoginService) LocalLogin(ctx context.Context, email, password string) (*Result, error) {
	user, err := s.rbacEngine.AuthenticateLocalUser(ctx, email, password)
	if err != nil {
		s.audit.Log(ctx, domain.AuditLog{
			UserEmail: domain.NormalizeEmail(email),
			Action:    domain.AuditLoginFailure,
			Outcome:   domain.AuditOutcomeFailure,
			CreatedAt: time.Now(),
		})
		return nil, gwerrors.ErrAuthInvalid
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("auth: failed to update last_login")
	}

	token, err := s.tokens.Issue(user.UserID, user.Email, user.Provider)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.audit.Log(ctx, domain.AuditLog{
		UserID:    user.UserID,
		UserEmail: user.Email,
		Action:    domain.AuditLoginSuccess,
		Outcome:   domain.AuditOutcomeSuccess,
		CreatedAt: time.Now(),
	})

	return &Result{Token: token, User: user}, nil
}

// AuthorizationURL starts an OAuth flow for providerID, optionally
// remembering redirectTo for the callback to return the browser to.
func (s *LoginService) AuthorizationURL(ctx context.Context, providerID, redirectTo string) (string, error) {
	return s.oauthRegistry.AuthorizationURL(ctx, providerID, redirectTo)
}

// Callback implements the OAuth authorization-code callback: exchange
// the code, fetch userinfo, upsert the user keyed by email, resolve
// the identity provider's groups to a role set, and invalidate the
// user's cache entry before touching roles so a request racing the
// mutation can't read stale permissions. A non-empty resolved role set
// replaces the user's existing roles; an empty one preserves them,
// since a misconfigured claim should never silently lock out a
// manually assigned user. If RequireRoleForLogin is set and the user
// still has no roles afterward, the user is deleted and the event is
// audited rather than letting a roleless account through.
func (s *LoginService) Callback(ctx context.Context, state, code string) (*Result, error) {
	providerID, redirectTo, err := s.oauthRegistry.ConsumeState(state)
	if err != nil {
		return nil, fmt.Errorf("oauth callback: %w", err)
	}

	identity, err := s.oauthRegistry.Exchange(ctx, providerID, code)
	if err != nil {
		return nil, fmt.Errorf("oauth callback: %w", err)
	}

	user, err := s.upsertUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("oauth callback: %w", err)
	}

	roles, err := s.store.RolesForGroups(ctx, providerID, identity.Groups)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider_id", providerID).Msg("auth: group-to-role resolution failed")
		roles = nil
	}

	// Step 4: invalidate before touching roles, so a request racing the
	// role mutation can't read permissions that are about to be stale.
	s.cache.InvalidateUser(user.UserID)

	if len(roles) > 0 {
		user.Roles = roles
	}
	// else: preserve user.Roles as loaded.

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("oauth callback: persist role set: %w", err)
	}

	if s.requireRoleForLogin && len(user.Roles) == 0 {
		if err := s.store.DeleteUser(ctx, user.UserID); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("auth: failed to delete no-role user")
		}
		s.cache.InvalidateUser(user.UserID)
		s.audit.Log(ctx, domain.AuditLog{
			UserID:    user.UserID,
			UserEmail: user.Email,
			Action:    domain.AuditUserDeleted,
			Outcome:   domain.AuditOutcomeSuccess,
			Details:   map[string]interface{}{"reason": "no role resolved from OAuth group mapping, REQUIRE_ROLE_FOR_LOGIN is set"},
			CreatedAt: time.Now(),
		})
		return nil, fmt.Errorf("access denied: no role assigned for this account")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("auth: failed to update last_login")
	}

	token, err := s.tokens.Issue(user.UserID, user.Email, user.Provider)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.audit.Log(ctx, domain.AuditLog{
		UserID:    user.UserID,
		UserEmail: user.Email,
		Action:    domain.AuditLoginSuccess,
		Outcome:   domain.AuditOutcomeSuccess,
		Details:   map[string]interface{}{"provider_id": providerID},
		CreatedAt: time.Now(),
	})

	if redirectTo == "" {
		redirectTo = s.defaultRedirect
	}
	return &Result{Token: token, User: user, RedirectTo: redirectTo}, nil
}

func (s *LoginService) upsertUser(ctx context.Context, identity *oauth.Identity) (*domain.User, error) {
	existing, err := s.store.GetUserByEmail(ctx, identity.Email)
	if err == nil {
		existing.Provider = identity.ProviderID
		if identity.Name != "" {
			existing.Name = identity.Name
		}
		return existing, nil
	}

	user := &domain.User{
		UserID:    "user_" + uuid.NewString(),
		Email:     identity.Email,
		Name:      identity.Name,
		Provider:  identity.ProviderID,
		Roles:     nil,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/oauth"
	"github.com/akz4ol/toolsgateway/internal/rbac"
	"github.com/akz4ol/toolsgateway/internal/rbaccache"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

type stubTokenIssuer struct {
	issued []string
}

func (s *stubTokenIssuer) Issue(userID, email, provider string) (string, error) {
	s.issued = append(s.issued, userID)
	return "token-for-" + userID, nil
}

type stubAuditRecorder struct {
	entries []domain.AuditLog
}

func (s *stubAuditRecorder) Log(_ context.Context, entry domain.AuditLog) {
	s.entries = append(s.entries, entry)
}

func newTestLoginService(t *testing.T, requireRoleForLogin bool) (*LoginService, *memory.Store, *stubTokenIssuer, *stubAuditRecorder) {
	t.Helper()
	st := memory.New()
	cache := rbaccache.New(time.Minute, 1000, zerolog.Nop())
	engine := rbac.New(st, cache, zerolog.Nop())
	registry := oauth.New(st, "0123456789abcdef0123456789abcdef", "https://gateway.example", []string{"groups"}, time.Minute)
	tokens := &stubTokenIssuer{}
	audit := &stubAuditRecorder{}

	svc := New(st, cache, engine, registry, tokens, audit, requireRoleForLogin, "/ui", zerolog.Nop())
	return svc, st, tokens, audit
}

func TestLocalLoginSucceedsAndIssuesToken(t *testing.T) {
	svc, _, tokens, audit := newTestLoginService(t, false)
	ctx := context.Background()

	if _, err := svc.rbacEngine.CreateLocalUser(ctx, "person@example.com", "s3cret", "Person", nil); err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}

	result, err := svc.LocalLogin(ctx, "person@example.com", "s3cret")
	if err != nil {
		t.Fatalf("LocalLogin: %v", err)
	}
	if result.Token == "" || result.User.Email != "person@example.com" {
		t.Fatalf("unexpected login result: %+v", result)
	}
	if len(tokens.issued) != 1 {
		t.Fatalf("expected exactly one token issued, got %d", len(tokens.issued))
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != domain.AuditLoginSuccess {
		t.Fatalf("expected a login-success audit entry, got %+v", audit.entries)
	}
	if result.User.LastLoginAt == nil {
		t.Fatalf("expected LastLoginAt to be set after login")
	}
}

func TestLocalLoginRejectsWrongPasswordAndAudits(t *testing.T) {
	svc, _, tokens, audit := newTestLoginService(t, false)
	ctx := context.Background()

	if _, err := svc.rbacEngine.CreateLocalUser(ctx, "person@example.com", "s3cret", "Person", nil); err != nil {
		t.Fatalf("CreateLocalUser: %v", err)
	}

	if _, err := svc.LocalLogin(ctx, "person@example.com", "wrong"); err == nil {
		t.Fatalf("expected LocalLogin to fail with the wrong password")
	}
	if len(tokens.issued) != 0 {
		t.Fatalf("expected no token issued on a failed login")
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != domain.AuditLoginFailure {
		t.Fatalf("expected a login-failure audit entry, got %+v", audit.entries)
	}
}

func TestLocalLoginRejectsUnknownUser(t *testing.T) {
	svc, _, _, audit := newTestLoginService(t, false)
	ctx := context.Background()

	if _, err := svc.LocalLogin(ctx, "nobody@example.com", "whatever"); err == nil {
		t.Fatalf("expected LocalLogin to fail for an unknown user")
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != domain.AuditLoginFailure {
		t.Fatalf("expected a login-failure audit entry, got %+v", audit.entries)
	}
}

func TestAuthorizationURLAndConsumeStateRoundTrip(t *testing.T) {
	svc, st, _, _ := newTestLoginService(t, false)
	ctx := context.Background()

	secret, err := svc.oauthRegistry.EncryptSecret("client-secret")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if err := st.CreateOAuthProvider(ctx, &domain.OAuthProvider{
		ProviderID:   "google",
		ProviderName: "Google",
		ClientID:     "client-id",
		ClientSecret: secret,
		AuthorizeURL: "https://accounts.example.com/authorize",
		TokenURL:     "https://accounts.example.com/token",
		UserinfoURL:  "https://accounts.example.com/userinfo",
		Scopes:       []string{"openid", "email"},
		Enabled:      true,
	}); err != nil {
		t.Fatalf("CreateOAuthProvider: %v", err)
	}

	authURL, err := svc.AuthorizationURL(ctx, "google", "/after-login")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	if authURL == "" {
		t.Fatalf("expected a non-empty authorization URL")
	}

	providerID, redirectTo, err := svc.oauthRegistry.ConsumeState(stateFromAuthURL(t, authURL))
	if err != nil {
		t.Fatalf("ConsumeState: %v", err)
	}
	if providerID != "google" || redirectTo != "/after-login" {
		t.Fatalf("unexpected consumed state: provider=%q redirect=%q", providerID, redirectTo)
	}

	// A state token can only be consumed once.
	if _, _, err := svc.oauthRegistry.ConsumeState(stateFromAuthURL(t, authURL)); err == nil {
		t.Fatalf("expected re-consuming the same state to fail")
	}
}

func TestAuthorizationURLRejectsDisabledProvider(t *testing.T) {
	svc, st, _, _ := newTestLoginService(t, false)
	ctx := context.Background()

	secret, _ := svc.oauthRegistry.EncryptSecret("client-secret")
	st.CreateOAuthProvider(ctx, &domain.OAuthProvider{
		ProviderID:   "disabled",
		ClientSecret: secret,
		AuthorizeURL: "https://accounts.example.com/authorize",
		TokenURL:     "https://accounts.example.com/token",
		Enabled:      false,
	})

	if _, err := svc.AuthorizationURL(ctx, "disabled", ""); err == nil {
		t.Fatalf("expected AuthorizationURL to reject a disabled provider")
	}
}

// stateFromAuthURL extracts the "state" query parameter the registry
// embedded in the authorization URL it returned.
func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("expected a state query parameter in %s", authURL)
	}
	return state
}

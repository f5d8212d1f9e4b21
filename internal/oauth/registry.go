// Package oauth implements the gateway's per-provider OAuth2/OIDC
// authorize-code flow: building the authorization URL, exchanging the
// code, fetching userinfo, and extracting group claims for role
// resolution. client_secret is kept encrypted at rest and only
// decrypted in memory for the duration of a flow.
package oauth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/store"
)

// pendingState records the external redirect target (if any) a caller
// registered when starting an authorize flow, so the callback can
// return the browser there instead of the gateway's default landing
// page. Entries expire after stateTTL to bound the map's growth.
type pendingState struct {
	providerID string
	redirectTo string
	expiresAt  time.Time
}

// Registry manages every registered OAuth/OIDC identity provider.
type Registry struct {
	store         store.OAuthStore
	encryptionKey []byte // exactly 32 bytes, AES-256
	baseURL       string
	groupClaims   []string
	stateTTL      time.Duration
	httpClient    *http.Client

	mu    sync.Mutex
	state map[string]pendingState
}

// New builds a Registry. encryptionKey is padded/truncated to 32 bytes
// so any configured secret works as an AES-256 key.
func New(st store.OAuthStore, encryptionKey, baseURL string, groupClaims []string, stateTTL time.Duration) *Registry {
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &Registry{
		store:         st,
		encryptionKey: key,
		baseURL:       baseURL,
		groupClaims:   groupClaims,
		stateTTL:      stateTTL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		state:         make(map[string]pendingState),
	}
}

// EncryptSecret encrypts plaintext with AES-GCM, prepending the random
// nonce to the ciphertext.
func (r *Registry) EncryptSecret(plaintext string) (string, error) {
	block, err := aes.NewCipher(r.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret reverses EncryptSecret.
func (r *Registry) DecryptSecret(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(r.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("oauth: ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthorizationURL builds the provider's authorization-code redirect
// URL and registers a cryptographically random state token keyed to
// redirectTo (the post-login landing page a cross-origin caller asked
// for; may be empty for the default).
func (r *Registry) AuthorizationURL(ctx context.Context, providerID, redirectTo string) (string, error) {
	p, err := r.store.GetOAuthProvider(ctx, providerID)
	if err != nil {
		return "", err
	}
	if !p.Enabled {
		return "", fmt.Errorf("oauth: provider %s is disabled", providerID)
	}

	secret, err := r.DecryptSecret(p.ClientSecret)
	if err != nil {
		return "", fmt.Errorf("oauth: decrypt client secret: %w", err)
	}

	cfg := r.oauth2Config(p, secret)

	state, err := randomState()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.state[state] = pendingState{providerID: providerID, redirectTo: redirectTo, expiresAt: time.Now().Add(r.stateTTL)}
	r.gcLocked()
	r.mu.Unlock()

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (r *Registry) gcLocked() {
	now := time.Now()
	for k, v := range r.state {
		if now.After(v.expiresAt) {
			delete(r.state, k)
		}
	}
}

// ConsumeState validates and removes a state token, returning the
// provider id and redirect target it was registered with.
func (r *Registry) ConsumeState(state string) (providerID, redirectTo string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending, ok := r.state[state]
	if !ok {
		return "", "", errors.New("oauth: unknown or expired state")
	}
	delete(r.state, state)
	if time.Now().After(pending.expiresAt) {
		return "", "", errors.New("oauth: expired state")
	}
	return pending.providerID, pending.redirectTo, nil
}

func (r *Registry) oauth2Config(p *domain.OAuthProvider, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthorizeURL,
			TokenURL: p.TokenURL,
		},
		RedirectURL: fmt.Sprintf("%s/auth/callback?provider_id=%s", r.baseURL, p.ProviderID),
		Scopes:      p.Scopes,
	}
}

// Identity is the resolved identity from a completed OAuth callback.
type Identity struct {
	ProviderID string
	Email      string
	Name       string
	Groups     []string
}

// Exchange completes the authorization-code flow for providerID: it
// exchanges code for a token, fetches userinfo (verifying the ID token
// against OIDC discovery metadata when the provider publishes an
// issuer), and extracts group claims.
func (r *Registry) Exchange(ctx context.Context, providerID, code string) (*Identity, error) {
	p, err := r.store.GetOAuthProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	secret, err := r.DecryptSecret(p.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("oauth: decrypt client secret: %w", err)
	}
	cfg := r.oauth2Config(p, secret)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: code exchange failed: %w", err)
	}

	if p.IssuerURL != "" {
		if err := r.verifyIDToken(ctx, p, token); err != nil {
			return nil, fmt.Errorf("oauth: id token verification failed: %w", err)
		}
	}

	claims, err := r.fetchUserinfo(ctx, p, cfg, token)
	if err != nil {
		return nil, err
	}

	groups := extractGroups(claims, r.groupClaims)

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if email == "" {
		return nil, errors.New("oauth: userinfo response carries no email claim")
	}

	return &Identity{ProviderID: providerID, Email: domain.NormalizeEmail(email), Name: name, Groups: groups}, nil
}

func (r *Registry) verifyIDToken(ctx context.Context, p *domain.OAuthProvider, token *oauth2.Token) error {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil // provider didn't return one; trust the userinfo fetch alone
	}
	provider, err := oidc.NewProvider(ctx, p.IssuerURL)
	if err != nil {
		return err
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: p.ClientID})
	_, err = verifier.Verify(ctx, rawIDToken)
	return err
}

func (r *Registry) fetchUserinfo(ctx context.Context, p *domain.OAuthProvider, cfg *oauth2.Config, token *oauth2.Token) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: userinfo returned HTTP %d", resp.StatusCode)
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("oauth: userinfo response decode failed: %w", err)
	}
	return claims, nil
}

// extractGroups reads the first present claim (in claimNames order) and
// normalizes it to a []string: values may already be strings, or
// objects carrying a "name" field.
func extractGroups(claims map[string]interface{}, claimNames []string) []string {
	for _, name := range claimNames {
		raw, ok := claims[name]
		if !ok {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			continue
		}
		groups := make([]string, 0, len(list))
		for _, item := range list {
			switch v := item.(type) {
			case string:
				groups = append(groups, v)
			case map[string]interface{}:
				if n, ok := v["name"].(string); ok {
					groups = append(groups, n)
				}
			}
		}
		if len(groups) > 0 {
			return groups
		}
	}
	return nil
}

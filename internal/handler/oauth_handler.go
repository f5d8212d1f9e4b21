package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// OAuthEngine is the subset of store.OAuthStore the oauth admin
// handler needs.
type OAuthEngine interface {
	ListOAuthProviders(ctx context.Context) ([]*domain.OAuthProvider, error)
	GetOAuthProvider(ctx context.Context, providerID string) (*domain.OAuthProvider, error)
	CreateOAuthProvider(ctx context.Context, p *domain.OAuthProvider) error
	UpdateOAuthProvider(ctx context.Context, p *domain.OAuthProvider) error
	DeleteOAuthProvider(ctx context.Context, providerID string) error
	SetGroupMapping(ctx context.Context, m domain.OAuthGroupMapping) error
	DeleteGroupMapping(ctx context.Context, providerID, groupName string) error
	ListGroupMappings(ctx context.Context, providerID string) ([]domain.OAuthGroupMapping, error)
}

// OAuthHandler administers identity-provider registrations and their
// group-to-role mappings. client_secret is accepted here in cleartext
// over the admin API and encrypted at rest by the store adapter; it is
// never echoed back in a response.
type OAuthHandler struct {
	logger zerolog.Logger
	store  OAuthEngine
}

func NewOAuthHandler(logger zerolog.Logger, store OAuthEngine) *OAuthHandler {
	return &OAuthHandler{logger: logger, store: store}
}

// redact clears the client secret before a provider is serialized in a response.
func redact(p *domain.OAuthProvider) *domain.OAuthProvider {
	out := *p
	out.ClientSecret = ""
	return &out
}

// ListProviders returns every registered identity provider.
func (h *OAuthHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListOAuthProviders(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to list providers")
		return
	}
	redacted := make([]*domain.OAuthProvider, 0, len(providers))
	for _, p := range providers {
		redacted = append(redacted, redact(p))
	}
	WriteSuccess(w, map[string]interface{}{"providers": redacted})
}

// GetProvider returns a single identity provider by id.
func (h *OAuthHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")
	p, err := h.store.GetOAuthProvider(r.Context(), providerID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "provider not found")
		return
	}
	WriteSuccess(w, redact(p))
}

// ProviderInput is the request body for registering or updating an
// identity provider.
type ProviderInput struct {
	ProviderName string   `json:"provider_name"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthorizeURL string   `json:"authorize_url"`
	TokenURL     string   `json:"token_url"`
	UserinfoURL  string   `json:"userinfo_url"`
	IssuerURL    string   `json:"issuer_url"`
	Scopes       []string `json:"scopes"`
	Enabled      *bool    `json:"enabled"`
}

// CreateProvider registers a new OAuth/OIDC identity provider.
func (h *OAuthHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var input ProviderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.ProviderName == "" || input.ClientID == "" || input.ClientSecret == "" {
		WriteError(w, http.StatusBadRequest, "missing_fields", "provider_name, client_id, and client_secret are required")
		return
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	p := &domain.OAuthProvider{
		ProviderID:   "oauth_" + uuid.NewString(),
		ProviderName: input.ProviderName,
		ClientID:     input.ClientID,
		ClientSecret: input.ClientSecret,
		AuthorizeURL: input.AuthorizeURL,
		TokenURL:     input.TokenURL,
		UserinfoURL:  input.UserinfoURL,
		IssuerURL:    input.IssuerURL,
		Scopes:       input.Scopes,
		Enabled:      enabled,
	}
	if err := h.store.CreateOAuthProvider(r.Context(), p); err != nil {
		h.logger.Error().Err(err).Str("provider_name", input.ProviderName).Msg("failed to register oauth provider")
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to register provider")
		return
	}
	WriteJSON(w, http.StatusCreated, redact(p))
}

// UpdateProvider updates an existing identity provider's settings. A
// blank client_secret in the request body leaves the stored secret
// untouched rather than clearing it.
func (h *OAuthHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")

	p, err := h.store.GetOAuthProvider(r.Context(), providerID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "provider not found")
		return
	}

	var input ProviderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if input.ProviderName != "" {
		p.ProviderName = input.ProviderName
	}
	if input.ClientID != "" {
		p.ClientID = input.ClientID
	}
	if input.ClientSecret != "" {
		p.ClientSecret = input.ClientSecret
	}
	if input.AuthorizeURL != "" {
		p.AuthorizeURL = input.AuthorizeURL
	}
	if input.TokenURL != "" {
		p.TokenURL = input.TokenURL
	}
	if input.UserinfoURL != "" {
		p.UserinfoURL = input.UserinfoURL
	}
	if input.IssuerURL != "" {
		p.IssuerURL = input.IssuerURL
	}
	if input.Scopes != nil {
		p.Scopes = input.Scopes
	}
	if input.Enabled != nil {
		p.Enabled = *input.Enabled
	}

	if err := h.store.UpdateOAuthProvider(r.Context(), p); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to update provider")
		return
	}
	WriteSuccess(w, redact(p))
}

// DeleteProvider deregisters an identity provider.
func (h *OAuthHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")
	if err := h.store.DeleteOAuthProvider(r.Context(), providerID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to delete provider")
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

// GroupMappingInput names a group->role mapping.
type GroupMappingInput struct {
	GroupName string `json:"group_name"`
	RoleID    string `json:"role_id"`
}

// ListGroupMappings returns every group->role mapping for a provider.
func (h *OAuthHandler) ListGroupMappings(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")
	mappings, err := h.store.ListGroupMappings(r.Context(), providerID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to list group mappings")
		return
	}
	WriteSuccess(w, map[string]interface{}{"mappings": mappings})
}

// SetGroupMapping creates or replaces a provider's group->role mapping.
func (h *OAuthHandler) SetGroupMapping(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")

	var input GroupMappingInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.GroupName == "" || input.RoleID == "" {
		WriteError(w, http.StatusBadRequest, "missing_fields", "group_name and role_id are required")
		return
	}

	m := domain.OAuthGroupMapping{ProviderID: providerID, GroupName: input.GroupName, RoleID: input.RoleID}
	if err := h.store.SetGroupMapping(r.Context(), m); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to set group mapping")
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

// DeleteGroupMapping removes a provider's group->role mapping.
func (h *OAuthHandler) DeleteGroupMapping(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")
	groupName := chi.URLParam(r, "groupName")
	if err := h.store.DeleteGroupMapping(r.Context(), providerID, groupName); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to delete group mapping")
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

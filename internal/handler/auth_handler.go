package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/akz4ol/toolsgateway/internal/auth"
	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/gwerrors"
	"github.com/akz4ol/toolsgateway/internal/middleware"
)

// PermissionResolver is the subset of rbac.Engine the "current user"
// endpoint needs to report effective permissions alongside roles.
type PermissionResolver interface {
	HasPermission(ctx context.Context, userID string, perm domain.Permission) (bool, error)
}

// AuthHandler implements the gateway's login surface: local
// email/password, OAuth authorization-url issuance, the OAuth
// callback, and the authenticated "who am I" endpoint.
type AuthHandler struct {
	login *auth.LoginService
	rbac  PermissionResolver
	users UserEngine
}

func NewAuthHandler(login *auth.LoginService, rbacEngine PermissionResolver, users UserEngine) *AuthHandler {
	return &AuthHandler{login: login, rbac: rbacEngine, users: users}
}

// LocalLoginInput is the request body for POST /auth/login/local.
type LocalLoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LocalLogin authenticates an email/password pair and issues a bearer token.
func (h *AuthHandler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	var input LocalLoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.Email == "" || input.Password == "" {
		WriteError(w, http.StatusBadRequest, "missing_fields", "email and password are required")
		return
	}

	result, err := h.login.LocalLogin(r.Context(), input.Email, input.Password)
	if err != nil {
		if errors.Is(err, gwerrors.ErrAuthInvalid) {
			WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	WriteSuccess(w, map[string]string{"access_token": result.Token})
}

// StartOAuthLogin handles POST /auth/login?provider_id=...
func (h *AuthHandler) StartOAuthLogin(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")
	if providerID == "" {
		WriteError(w, http.StatusBadRequest, "missing_provider", "provider_id is required")
		return
	}
	redirectTo := r.URL.Query().Get("redirect_to")

	url, err := h.login.AuthorizationURL(r.Context(), providerID, redirectTo)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "oauth_start_failed", err.Error())
		return
	}

	WriteSuccess(w, map[string]string{"authorize_url": url})
}

// Callback handles GET /auth/callback.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		WriteError(w, http.StatusBadRequest, "missing_params", "state and code are required")
		return
	}

	result, err := h.login.Callback(r.Context(), state, code)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "oauth_callback_failed", err.Error())
		return
	}

	if result.RedirectTo != "" {
		target := result.RedirectTo
		sep := "?"
		if containsQuery(target) {
			sep = "&"
		}
		http.Redirect(w, r, target+sep+"access_token="+result.Token, http.StatusFound)
		return
	}

	WriteSuccess(w, map[string]string{"access_token": result.Token})
}

func containsQuery(url string) bool {
	for _, c := range url {
		if c == '?' {
			return true
		}
	}
	return false
}

// CurrentUserResponse is the response body of GET /auth/user.
type CurrentUserResponse struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// CurrentUser returns the authenticated caller's identity, roles, and
// the effective permission set resolved across all of them.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	info := middleware.GetAuthInfo(r.Context())
	if info == nil {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	user, err := h.users.GetUser(r.Context(), info.UserID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}

	var perms []string
	for _, p := range domain.AllPermissions {
		ok, err := h.rbac.HasPermission(r.Context(), info.UserID, p)
		if err == nil && ok {
			perms = append(perms, string(p))
		}
	}

	WriteSuccess(w, CurrentUserResponse{
		UserID:      user.UserID,
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: perms,
	})
}

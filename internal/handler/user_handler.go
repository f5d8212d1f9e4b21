package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// UserEngine is the subset of rbac.Engine the user handler needs.
type UserEngine interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateLocalUser(ctx context.Context, email, password, name string, roles []string) (*domain.User, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	SetUserEnabled(ctx context.Context, userID string, enabled bool) error
	DeleteUser(ctx context.Context, userID string) error
}

// UserHandler administers gateway user accounts and their role
// assignments. Unlike the original multi-tenant invite flow, accounts
// are created directly: local users get a password up front, OAuth
// users are provisioned on first login.
type UserHandler struct {
	logger zerolog.Logger
	engine UserEngine
}

func NewUserHandler(logger zerolog.Logger, engine UserEngine) *UserHandler {
	return &UserHandler{logger: logger, engine: engine}
}

// ListUsers returns every user account known to the gateway.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.ListUsers(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to list users")
		return
	}
	WriteSuccess(w, map[string]interface{}{"users": users, "total": len(users)})
}

// GetUser returns a single user account by id.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	user, err := h.engine.GetUser(r.Context(), userID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	WriteSuccess(w, user)
}

// CreateUserInput is the request body for provisioning a local user.
type CreateUserInput struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
}

// CreateUser provisions a new local (password-authenticated) user.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var input CreateUserInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.Email == "" || input.Password == "" {
		WriteError(w, http.StatusBadRequest, "missing_fields", "email and password are required")
		return
	}

	user, err := h.engine.CreateLocalUser(r.Context(), domain.NormalizeEmail(input.Email), input.Password, input.Name, input.Roles)
	if err != nil {
		h.logger.Error().Err(err).Str("email", input.Email).Msg("failed to create user")
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to create user")
		return
	}
	WriteJSON(w, http.StatusCreated, user)
}

// SetEnabledInput toggles a user's enabled flag.
type SetEnabledInput struct {
	Enabled bool `json:"enabled"`
}

// SetUserEnabled enables or disables a user account.
func (h *UserHandler) SetUserEnabled(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var input SetEnabledInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if err := h.engine.SetUserEnabled(r.Context(), userID, input.Enabled); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to update user")
		return
	}
	WriteSuccess(w, map[string]string{"status": "updated"})
}

// DeleteUser permanently removes a user account.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := h.engine.DeleteUser(r.Context(), userID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to delete user")
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

// AssignRoleInput names the role to assign or revoke.
type AssignRoleInput struct {
	RoleID string `json:"role_id"`
}

// AssignRole grants userId an additional role.
func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var input AssignRoleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.RoleID == "" {
		WriteError(w, http.StatusBadRequest, "missing_role_id", "role_id is required")
		return
	}

	if err := h.engine.AssignRole(r.Context(), userID, input.RoleID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to assign role")
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
}

// RevokeRole removes a role from userId.
func (h *UserHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	roleID := chi.URLParam(r, "roleId")

	if err := h.engine.RevokeRole(r.Context(), userID, roleID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to revoke role")
		return
	}
	WriteSuccess(w, map[string]string{"status": "revoked"})
}

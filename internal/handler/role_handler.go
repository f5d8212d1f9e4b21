package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// RoleEngine is the subset of rbac.Engine the role handler needs.
type RoleEngine interface {
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	GetRole(ctx context.Context, roleID string) (*domain.Role, error)
	CreateRole(ctx context.Context, roleName, description string, perms []domain.Permission) (*domain.Role, error)
	UpdateRole(ctx context.Context, roleID string, roleName, description *string, perms []domain.Permission) (*domain.Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	GrantTool(ctx context.Context, roleID, serverID, toolName string) error
	RevokeTool(ctx context.Context, roleID, serverID, toolName string) error
	GrantsForServer(ctx context.Context, serverID string) ([]domain.RoleToolGrant, error)
}

// RoleHandler manages roles and the per-role tool execution grants
// that back the gateway's deny-by-default authorization model.
type RoleHandler struct {
	engine RoleEngine
}

func NewRoleHandler(engine RoleEngine) *RoleHandler {
	return &RoleHandler{engine: engine}
}

// ListRoles returns every role defined in the gateway.
func (h *RoleHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.engine.ListRoles(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to list roles")
		return
	}
	WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// GetRole retrieves a role by its slug id.
func (h *RoleHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleId")
	role, err := h.engine.GetRole(r.Context(), roleID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "role not found")
		return
	}
	WriteSuccess(w, role)
}

// RoleInput is the request body for creating or updating a role.
type RoleInput struct {
	RoleName    string              `json:"role_name"`
	Description string              `json:"description"`
	Permissions []domain.Permission `json:"permissions"`
}

// CreateRole creates a new custom role with a closed-set permission bundle.
func (h *RoleHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var input RoleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.RoleName == "" {
		WriteError(w, http.StatusBadRequest, "missing_name", "role_name is required")
		return
	}
	for _, p := range input.Permissions {
		if !domain.IsValidPermission(p) {
			WriteError(w, http.StatusBadRequest, "invalid_permission", "unknown permission: "+string(p))
			return
		}
	}

	role, err := h.engine.CreateRole(r.Context(), input.RoleName, input.Description, input.Permissions)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to create role")
		return
	}
	WriteJSON(w, http.StatusCreated, role)
}

// UpdateRole updates a custom role's name, description, or permissions.
func (h *RoleHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleId")

	var input RoleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	for _, p := range input.Permissions {
		if !domain.IsValidPermission(p) {
			WriteError(w, http.StatusBadRequest, "invalid_permission", "unknown permission: "+string(p))
			return
		}
	}

	var name, desc *string
	if input.RoleName != "" {
		name = &input.RoleName
	}
	if input.Description != "" {
		desc = &input.Description
	}

	role, err := h.engine.UpdateRole(r.Context(), roleID, name, desc, input.Permissions)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "update_failed", err.Error())
		return
	}
	WriteSuccess(w, role)
}

// DeleteRole deletes a custom role. System roles cannot be deleted.
func (h *RoleHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleId")
	if err := h.engine.DeleteRole(r.Context(), roleID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to delete role")
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

// GrantInput names a tool grant target.
type GrantInput struct {
	ServerID string `json:"server_id"`
	ToolName string `json:"tool_name"`
}

// GrantTool authorizes a role to execute a specific tool on a backend server.
func (h *RoleHandler) GrantTool(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleId")

	var input GrantInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if input.ServerID == "" || input.ToolName == "" {
		WriteError(w, http.StatusBadRequest, "missing_fields", "server_id and tool_name are required")
		return
	}

	if err := h.engine.GrantTool(r.Context(), roleID, input.ServerID, input.ToolName); err != nil {
		WriteError(w, http.StatusBadRequest, "grant_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// RevokeTool removes a previously granted tool execution right.
func (h *RoleHandler) RevokeTool(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleId")
	serverID := chi.URLParam(r, "serverId")
	toolName := chi.URLParam(r, "toolName")

	if err := h.engine.RevokeTool(r.Context(), roleID, serverID, toolName); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to revoke grant")
		return
	}
	WriteSuccess(w, map[string]string{"status": "revoked"})
}

// ListServerGrants returns every role grant recorded against a server.
func (h *RoleHandler) ListServerGrants(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	grants, err := h.engine.GrantsForServer(r.Context(), serverID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to list grants")
		return
	}
	WriteSuccess(w, map[string]interface{}{"grants": grants})
}

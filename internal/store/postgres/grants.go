package postgres

import (
	"context"
	"fmt"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// GrantsForRoleOnServer returns nil (not an empty slice) when the role has
// no grants recorded anywhere, matching the Store interface's contract
// which the RBAC engine depends on for the "unrestricted" legacy quirk.
func (s *Store) GrantsForRoleOnServer(ctx context.Context, roleID, serverID string) ([]string, error) {
	hasAny, err := s.RoleHasAnyGrant(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !hasAny {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name FROM role_tool_grants WHERE role_id=$1 AND server_id=$2`, roleID, serverID)
	if err != nil {
		return nil, fmt.Errorf("grants for role on server: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var tool string
		if err := rows.Scan(&tool); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, tool)
	}
	return out, rows.Err()
}

func (s *Store) RoleHasAnyGrant(ctx context.Context, roleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM role_tool_grants WHERE role_id=$1)`, roleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("role has any grant: %w", err)
	}
	return exists, nil
}

func (s *Store) HasGrant(ctx context.Context, roleID, serverID, toolName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM role_tool_grants WHERE role_id=$1 AND server_id=$2 AND tool_name=$3)`,
		roleID, serverID, toolName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has grant: %w", err)
	}
	return exists, nil
}

func (s *Store) SetGrant(ctx context.Context, g domain.RoleToolGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_tool_grants (role_id, server_id, tool_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, server_id, tool_name) DO NOTHING`,
		g.RoleID, g.ServerID, g.ToolName)
	if err != nil {
		return fmt.Errorf("set grant: %w", err)
	}
	return nil
}

func (s *Store) RevokeGrant(ctx context.Context, g domain.RoleToolGrant) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM role_tool_grants WHERE role_id=$1 AND server_id=$2 AND tool_name=$3`,
		g.RoleID, g.ServerID, g.ToolName)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	return nil
}

func (s *Store) GrantsForServer(ctx context.Context, serverID string) ([]domain.RoleToolGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id, server_id, tool_name FROM role_tool_grants WHERE server_id=$1`, serverID)
	if err != nil {
		return nil, fmt.Errorf("grants for server: %w", err)
	}
	defer rows.Close()

	var out []domain.RoleToolGrant
	for rows.Next() {
		var g domain.RoleToolGrant
		if err := rows.Scan(&g.RoleID, &g.ServerID, &g.ToolName); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

func (s *Store) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT role_id, role_name, description, permissions, is_system, created_at, updated_at
		FROM roles WHERE role_id = $1`, roleID)
	return scanRole(row)
}

func scanRole(row *sql.Row) (*domain.Role, error) {
	var r domain.Role
	var permsJSON []byte
	err := row.Scan(&r.RoleID, &r.RoleName, &r.Description, &permsJSON, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role: %w", memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query role: %w", err)
	}
	if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id, role_name, description, permissions, is_system, created_at, updated_at FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []*domain.Role
	for rows.Next() {
		var r domain.Role
		var permsJSON []byte
		if err := rows.Scan(&r.RoleID, &r.RoleName, &r.Description, &permsJSON, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal permissions: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, r *domain.Role) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (role_id, role_name, description, permissions, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (role_id) DO NOTHING`,
		r.RoleID, r.RoleName, r.Description, perms, r.IsSystem, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *Store) UpdateRole(ctx context.Context, r *domain.Role) error {
	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	r.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET role_name=$2, description=$3, permissions=$4, updated_at=$5
		WHERE role_id=$1 AND is_system = false`,
		r.RoleID, r.RoleName, r.Description, perms, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("role %s is a system role or does not exist", r.RoleID)
	}
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE role_id=$1 AND is_system = false`, roleID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("role %s is a system role or does not exist", roleID)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM role_tool_grants WHERE role_id=$1`, roleID)
	return err
}

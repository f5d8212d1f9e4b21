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

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT user_id, email, name, provider, password_hash, roles, enabled, created_at, last_login_at
		FROM users WHERE user_id = $1`, userID))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT user_id, email, name, provider, password_hash, roles, enabled, created_at, last_login_at
		FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *Store) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var name, providerName sql.NullString
	var rolesJSON []byte
	var lastLogin sql.NullTime

	err := row.Scan(&u.UserID, &u.Email, &name, &providerName, &u.PasswordHash, &rolesJSON, &u.Enabled, &u.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Name = name.String
	u.Provider = providerName.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if err := json.Unmarshal(rolesJSON, &u.Roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, name, provider, password_hash, roles, enabled, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.UserID, u.Email, u.Name, u.Provider, u.PasswordHash, roles, u.Enabled, u.CreatedAt, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email=$2, name=$3, provider=$4, password_hash=$5, roles=$6, enabled=$7, last_login_at=$8
		WHERE user_id=$1`,
		u.UserID, u.Email, u.Name, u.Provider, u.PasswordHash, roles, u.Enabled, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", u.UserID, memory.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, email, name, provider, password_hash, roles, enabled, created_at, last_login_at FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		var u domain.User
		var name, providerName sql.NullString
		var rolesJSON []byte
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.UserID, &u.Email, &name, &providerName, &u.PasswordHash, &rolesJSON, &u.Enabled, &u.CreatedAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Name = name.String
		u.Provider = providerName.String
		if lastLogin.Valid {
			t := lastLogin.Time
			u.LastLoginAt = &t
		}
		if err := json.Unmarshal(rolesJSON, &u.Roles); err != nil {
			return nil, fmt.Errorf("unmarshal roles: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *Store) UsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, roles FROM users WHERE roles @> to_jsonb($1::text)`, roleID)
	if err != nil {
		return nil, fmt.Errorf("users with role: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		var rolesJSON []byte
		if err := rows.Scan(&id, &rolesJSON); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

func (s *Store) GetServer(ctx context.Context, serverID string) (*domain.BackendServer, error) {
	var sv domain.BackendServer
	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, url, enabled FROM backend_servers WHERE server_id=$1`, serverID).
		Scan(&sv.ServerID, &sv.URL, &sv.Enabled)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server %s: %w", serverID, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query server: %w", err)
	}
	return &sv, nil
}

func (s *Store) ListServers(ctx context.Context) ([]*domain.BackendServer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT server_id, url, enabled FROM backend_servers`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*domain.BackendServer
	for rows.Next() {
		var sv domain.BackendServer
		if err := rows.Scan(&sv.ServerID, &sv.URL, &sv.Enabled); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, &sv)
	}
	return out, rows.Err()
}

func (s *Store) CreateServer(ctx context.Context, sv *domain.BackendServer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_servers (server_id, url, enabled) VALUES ($1, $2, $3)`,
		sv.ServerID, sv.URL, sv.Enabled)
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

func (s *Store) UpdateServer(ctx context.Context, sv *domain.BackendServer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backend_servers SET url=$2, enabled=$3 WHERE server_id=$1`,
		sv.ServerID, sv.URL, sv.Enabled)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s: %w", sv.ServerID, memory.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM backend_servers WHERE server_id=$1`, serverID)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM role_tool_grants WHERE server_id=$1`, serverID)
	return err
}

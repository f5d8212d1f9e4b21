package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
)

func (s *Store) GetOAuthProvider(ctx context.Context, providerID string) (*domain.OAuthProvider, error) {
	var p domain.OAuthProvider
	var scopesJSON []byte
	var secretEnc []byte
	var issuerURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT provider_id, provider_name, client_id, client_secret_enc, authorize_url, token_url, userinfo_url, issuer_url, scopes, enabled
		FROM oauth_providers WHERE provider_id=$1`, providerID).
		Scan(&p.ProviderID, &p.ProviderName, &p.ClientID, &secretEnc, &p.AuthorizeURL, &p.TokenURL, &p.UserinfoURL, &issuerURL, &scopesJSON, &p.Enabled)
	p.IssuerURL = issuerURL.String
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("oauth provider %s: %w", providerID, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query oauth provider: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &p.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	secret, err := decryptSecret(secretEnc, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt client secret: %w", err)
	}
	p.ClientSecret = secret
	return &p, nil
}

func (s *Store) ListOAuthProviders(ctx context.Context) ([]*domain.OAuthProvider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, provider_name, client_id, client_secret_enc, authorize_url, token_url, userinfo_url, issuer_url, scopes, enabled
		FROM oauth_providers`)
	if err != nil {
		return nil, fmt.Errorf("list oauth providers: %w", err)
	}
	defer rows.Close()

	var out []*domain.OAuthProvider
	for rows.Next() {
		var p domain.OAuthProvider
		var scopesJSON, secretEnc []byte
		var issuerURL sql.NullString
		if err := rows.Scan(&p.ProviderID, &p.ProviderName, &p.ClientID, &secretEnc, &p.AuthorizeURL, &p.TokenURL, &p.UserinfoURL, &issuerURL, &scopesJSON, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scan oauth provider: %w", err)
		}
		p.IssuerURL = issuerURL.String
		if err := json.Unmarshal(scopesJSON, &p.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
		secret, err := decryptSecret(secretEnc, s.secretKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt client secret: %w", err)
		}
		p.ClientSecret = secret
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) CreateOAuthProvider(ctx context.Context, p *domain.OAuthProvider) error {
	scopes, err := json.Marshal(p.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	secretEnc, err := encryptSecret(p.ClientSecret, s.secretKey)
	if err != nil {
		return fmt.Errorf("encrypt client secret: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_providers (provider_id, provider_name, client_id, client_secret_enc, authorize_url, token_url, userinfo_url, issuer_url, scopes, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ProviderID, p.ProviderName, p.ClientID, secretEnc, p.AuthorizeURL, p.TokenURL, p.UserinfoURL, nullableString(p.IssuerURL), scopes, p.Enabled)
	if err != nil {
		return fmt.Errorf("insert oauth provider: %w", err)
	}
	return nil
}

func (s *Store) UpdateOAuthProvider(ctx context.Context, p *domain.OAuthProvider) error {
	scopes, err := json.Marshal(p.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	secretEnc, err := encryptSecret(p.ClientSecret, s.secretKey)
	if err != nil {
		return fmt.Errorf("encrypt client secret: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_providers SET provider_name=$2, client_id=$3, client_secret_enc=$4,
			authorize_url=$5, token_url=$6, userinfo_url=$7, scopes=$8, enabled=$9
		WHERE provider_id=$1`,
		p.ProviderID, p.ProviderName, p.ClientID, secretEnc, p.AuthorizeURL, p.TokenURL, p.UserinfoURL, scopes, p.Enabled)
	if err != nil {
		return fmt.Errorf("update oauth provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("oauth provider %s: %w", p.ProviderID, memory.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteOAuthProvider(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_providers WHERE provider_id=$1`, providerID)
	if err != nil {
		return fmt.Errorf("delete oauth provider: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM oauth_group_mappings WHERE provider_id=$1`, providerID)
	return err
}

func (s *Store) RolesForGroups(ctx context.Context, providerID string, groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT role_id FROM oauth_group_mappings WHERE provider_id=$1 AND group_name = ANY($2)`,
		providerID, groups)
	if err != nil {
		return nil, fmt.Errorf("roles for groups: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		out = append(out, roleID)
	}
	return out, rows.Err()
}

func (s *Store) SetGroupMapping(ctx context.Context, m domain.OAuthGroupMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_group_mappings (provider_id, group_name, role_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id, group_name) DO UPDATE SET role_id = EXCLUDED.role_id`,
		m.ProviderID, m.GroupName, m.RoleID)
	if err != nil {
		return fmt.Errorf("set group mapping: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroupMapping(ctx context.Context, providerID, groupName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM oauth_group_mappings WHERE provider_id=$1 AND group_name=$2`, providerID, groupName)
	if err != nil {
		return fmt.Errorf("delete group mapping: %w", err)
	}
	return nil
}

func (s *Store) ListGroupMappings(ctx context.Context, providerID string) ([]domain.OAuthGroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, group_name, role_id FROM oauth_group_mappings WHERE provider_id=$1`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list group mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.OAuthGroupMapping
	for rows.Next() {
		var m domain.OAuthGroupMapping
		if err := rows.Scan(&m.ProviderID, &m.GroupName, &m.RoleID); err != nil {
			return nil, fmt.Errorf("scan group mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

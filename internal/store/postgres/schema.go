package postgres

// Migrations returns the gateway's schema as a set of named SQL migrations,
// applied in sorted-key order by database.MigrationRunner.
func Migrations() map[string]string {
	return map[string]string{
		"001_initial_schema.sql": `
-- Users
CREATE TABLE IF NOT EXISTS users (
    user_id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    name VARCHAR(255),
    provider VARCHAR(50),
    password_hash VARCHAR(255),
    roles JSONB NOT NULL DEFAULT '[]',
    enabled BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_login_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_users_email_lower ON users (lower(email));

-- Roles
CREATE TABLE IF NOT EXISTS roles (
    role_id VARCHAR(64) PRIMARY KEY,
    role_name VARCHAR(255) NOT NULL,
    description TEXT,
    permissions JSONB NOT NULL DEFAULT '[]',
    is_system BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Backend servers
CREATE TABLE IF NOT EXISTS backend_servers (
    server_id VARCHAR(64) PRIMARY KEY,
    url VARCHAR(500) NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT true
);

-- Per-role, per-server, per-tool grants
CREATE TABLE IF NOT EXISTS role_tool_grants (
    role_id VARCHAR(64) NOT NULL REFERENCES roles(role_id) ON DELETE CASCADE,
    server_id VARCHAR(64) NOT NULL,
    tool_name VARCHAR(255) NOT NULL,
    PRIMARY KEY (role_id, server_id, tool_name)
);
CREATE INDEX IF NOT EXISTS idx_grants_role ON role_tool_grants (role_id);
CREATE INDEX IF NOT EXISTS idx_grants_server ON role_tool_grants (server_id);

-- OAuth providers
CREATE TABLE IF NOT EXISTS oauth_providers (
    provider_id VARCHAR(64) PRIMARY KEY,
    provider_name VARCHAR(255) NOT NULL,
    client_id VARCHAR(255) NOT NULL,
    client_secret_enc BYTEA NOT NULL,
    authorize_url VARCHAR(500) NOT NULL,
    token_url VARCHAR(500) NOT NULL,
    userinfo_url VARCHAR(500) NOT NULL,
    issuer_url VARCHAR(500),
    scopes JSONB NOT NULL DEFAULT '[]',
    enabled BOOLEAN NOT NULL DEFAULT true
);

-- Group -> role mappings per OAuth provider
CREATE TABLE IF NOT EXISTS oauth_group_mappings (
    provider_id VARCHAR(64) NOT NULL REFERENCES oauth_providers(provider_id) ON DELETE CASCADE,
    group_name VARCHAR(255) NOT NULL,
    role_id VARCHAR(64) NOT NULL REFERENCES roles(role_id),
    PRIMARY KEY (provider_id, group_name)
);
`,
	}
}

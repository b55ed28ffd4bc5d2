package oauth

// Timestamps are stored as BIGINT unix nanoseconds so that the same
// statements run on Postgres and SQLite.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS oauth_clients (
		client_id TEXT PRIMARY KEY,
		client_secret_hash TEXT NOT NULL,
		client_name TEXT NOT NULL,
		redirect_uris TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_auth_codes (
		code_hash TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		redirect_uri TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		consumed_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_token_families (
		family_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		code_hash TEXT,
		created_at BIGINT NOT NULL,
		revoked_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_access_tokens (
		jti TEXT PRIMARY KEY,
		family_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		revoked_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		family_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		access_jti TEXT NOT NULL,
		rotated_from TEXT,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		used_at BIGINT,
		revoked_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_auth_codes_expires ON oauth_auth_codes(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_token_families_code ON oauth_token_families(code_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_access_tokens_family ON oauth_access_tokens(family_id)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_refresh_tokens_family ON oauth_refresh_tokens(family_id)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_refresh_tokens_expires ON oauth_refresh_tokens(expires_at)`,
}

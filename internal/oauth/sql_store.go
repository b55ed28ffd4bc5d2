package oauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on database/sql. Postgres URLs use lib/pq;
// "sqlite:" URLs and bare paths use modernc.org/sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLStore opens the database, applies pool settings, and migrates the
// schema.
func OpenSQLStore(ctx context.Context, cfg StoreConfig) (*SQLStore, error) {
	driver, dsn, d := parseDatabaseURL(cfg.DatabaseURL)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == dialectSQLite {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &SQLStore{db: db, dialect: d}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func parseDatabaseURL(raw string) (driver, dsn string, d dialect) {
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, dialectPostgres
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite://"), dialectSQLite
	case strings.HasPrefix(raw, "sqlite:"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite:"), dialectSQLite
	default:
		return "sqlite", raw, dialectSQLite
	}
}

// Migrate creates missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate oauth schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// SaveClient inserts a new client. Client ids are never overwritten.
func (s *SQLStore) SaveClient(ctx context.Context, client *Client) error {
	uris, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encode redirect uris: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO oauth_clients (client_id, client_secret_hash, client_name, redirect_uris, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		client.ClientID, client.ClientSecretHash, client.ClientName, string(uris), toNanos(client.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (s *SQLStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	var uris string
	var created int64
	err := s.queryRow(ctx, `
		SELECT client_id, client_secret_hash, client_name, redirect_uris, created_at
		FROM oauth_clients WHERE client_id = ?`, clientID,
	).Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientName, &uris, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	if err := json.Unmarshal([]byte(uris), &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("decode redirect uris: %w", err)
	}
	c.CreatedAt = fromNanos(created)
	return &c, nil
}

func (s *SQLStore) SaveAuthCode(ctx context.Context, code *AuthCode) error {
	_, err := s.exec(ctx, `
		INSERT INTO oauth_auth_codes (code_hash, client_id, user_id, redirect_uri, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code.CodeHash, code.ClientID, code.UserID, code.RedirectURI, code.State,
		toNanos(code.CreatedAt), toNanos(code.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save auth code: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAuthCode(ctx context.Context, codeHash string) (*AuthCode, error) {
	var c AuthCode
	var created, expires int64
	var consumed sql.NullInt64
	err := s.queryRow(ctx, `
		SELECT code_hash, client_id, user_id, redirect_uri, state, created_at, expires_at, consumed_at
		FROM oauth_auth_codes WHERE code_hash = ?`, codeHash,
	).Scan(&c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI, &c.State, &created, &expires, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth code: %w", err)
	}
	c.CreatedAt, c.ExpiresAt, c.ConsumedAt = fromNanos(created), fromNanos(expires), nullTime(consumed)
	return &c, nil
}

func (s *SQLStore) ConsumeAuthCode(ctx context.Context, codeHash string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE oauth_auth_codes SET consumed_at = ?
		WHERE code_hash = ? AND consumed_at IS NULL`, toNanos(at), codeHash)
	if err != nil {
		return false, fmt.Errorf("consume auth code: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLStore) CreateFamily(ctx context.Context, f *TokenFamily) error {
	_, err := s.exec(ctx, `
		INSERT INTO oauth_token_families (family_id, client_id, user_id, code_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.FamilyID, f.ClientID, f.UserID, nullableString(f.CodeHash), toNanos(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create token family: %w", err)
	}
	return nil
}

func (s *SQLStore) GetFamily(ctx context.Context, familyID string) (*TokenFamily, error) {
	var f TokenFamily
	var code sql.NullString
	var created int64
	var revoked sql.NullInt64
	err := s.queryRow(ctx, `
		SELECT family_id, client_id, user_id, code_hash, created_at, revoked_at
		FROM oauth_token_families WHERE family_id = ?`, familyID,
	).Scan(&f.FamilyID, &f.ClientID, &f.UserID, &code, &created, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token family: %w", err)
	}
	f.CodeHash, f.CreatedAt, f.RevokedAt = code.String, fromNanos(created), nullTime(revoked)
	return &f, nil
}

func (s *SQLStore) FamiliesForCode(ctx context.Context, codeHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT family_id FROM oauth_token_families WHERE code_hash = ?`), codeHash)
	if err != nil {
		return nil, fmt.Errorf("families for code: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("families for code: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RevokeFamily marks the family and every token in it revoked. The family
// row alone is authoritative; the token updates keep rows self-describing.
func (s *SQLStore) RevokeFamily(ctx context.Context, familyID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	defer tx.Rollback()

	ts := toNanos(at)
	for _, q := range []string{
		`UPDATE oauth_token_families SET revoked_at = ? WHERE family_id = ? AND revoked_at IS NULL`,
		`UPDATE oauth_access_tokens SET revoked_at = ? WHERE family_id = ? AND revoked_at IS NULL`,
		`UPDATE oauth_refresh_tokens SET revoked_at = ? WHERE family_id = ? AND revoked_at IS NULL`,
	} {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(q), ts, familyID); err != nil {
			return fmt.Errorf("revoke family: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO oauth_access_tokens (jti, family_id, client_id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		access.JTI, access.FamilyID, access.ClientID, access.UserID,
		toNanos(access.CreatedAt), toNanos(access.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO oauth_refresh_tokens
			(token_hash, family_id, client_id, user_id, access_jti, rotated_from, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		refresh.TokenHash, refresh.FamilyID, refresh.ClientID, refresh.UserID, refresh.AccessJTI,
		nullableString(refresh.RotatedFrom), toNanos(refresh.CreatedAt), toNanos(refresh.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAccessToken(ctx context.Context, jti string) (*AccessToken, error) {
	var t AccessToken
	var created, expires int64
	var revoked, familyRevoked sql.NullInt64
	err := s.queryRow(ctx, `
		SELECT a.jti, a.family_id, a.client_id, a.user_id, a.created_at, a.expires_at, a.revoked_at, f.revoked_at
		FROM oauth_access_tokens a
		LEFT JOIN oauth_token_families f ON f.family_id = a.family_id
		WHERE a.jti = ?`, jti,
	).Scan(&t.JTI, &t.FamilyID, &t.ClientID, &t.UserID, &created, &expires, &revoked, &familyRevoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	t.CreatedAt, t.ExpiresAt = fromNanos(created), fromNanos(expires)
	t.RevokedAt = firstTime(revoked, familyRevoked)
	return &t, nil
}

func (s *SQLStore) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var t RefreshToken
	var rotated sql.NullString
	var created, expires int64
	var used, revoked, familyRevoked sql.NullInt64
	err := s.queryRow(ctx, `
		SELECT r.token_hash, r.family_id, r.client_id, r.user_id, r.access_jti, r.rotated_from,
			r.created_at, r.expires_at, r.used_at, r.revoked_at, f.revoked_at
		FROM oauth_refresh_tokens r
		LEFT JOIN oauth_token_families f ON f.family_id = r.family_id
		WHERE r.token_hash = ?`, tokenHash,
	).Scan(&t.TokenHash, &t.FamilyID, &t.ClientID, &t.UserID, &t.AccessJTI, &rotated,
		&created, &expires, &used, &revoked, &familyRevoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	t.RotatedFrom = rotated.String
	t.CreatedAt, t.ExpiresAt = fromNanos(created), fromNanos(expires)
	t.UsedAt = nullTime(used)
	t.RevokedAt = firstTime(revoked, familyRevoked)
	return &t, nil
}

func (s *SQLStore) MarkRefreshTokenUsed(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE oauth_refresh_tokens SET used_at = ?
		WHERE token_hash = ? AND used_at IS NULL AND revoked_at IS NULL`, toNanos(at), tokenHash)
	if err != nil {
		return false, fmt.Errorf("mark refresh token used: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLStore) RevokeAccessToken(ctx context.Context, jti string, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE oauth_access_tokens SET revoked_at = ? WHERE jti = ? AND revoked_at IS NULL`, toNanos(at), jti)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *SQLStore) RevokeRefreshToken(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE oauth_refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`, toNanos(at), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// PurgeExpired deletes codes and tokens that expired before cutoff. Families
// are kept so that replayed codes can still be traced.
func (s *SQLStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM oauth_auth_codes WHERE expires_at < ?`,
		`DELETE FROM oauth_access_tokens WHERE expires_at < ?`,
		`DELETE FROM oauth_refresh_tokens WHERE expires_at < ?`,
	} {
		res, err := s.exec(ctx, q, toNanos(cutoff))
		if err != nil {
			return total, fmt.Errorf("purge expired: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func firstTime(values ...sql.NullInt64) *time.Time {
	for _, v := range values {
		if v.Valid {
			return nullTime(v)
		}
	}
	return nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientStore persists registered clients.
type ClientStore interface {
	SaveClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// CodeStore persists authorization codes. ConsumeAuthCode is a
// compare-and-set: it returns true for exactly one caller per code.
type CodeStore interface {
	SaveAuthCode(ctx context.Context, code *AuthCode) error
	GetAuthCode(ctx context.Context, codeHash string) (*AuthCode, error)
	ConsumeAuthCode(ctx context.Context, codeHash string, at time.Time) (bool, error)
}

// TokenStore persists token families and token records. Reads report a
// token as revoked when its family is revoked. MarkRefreshTokenUsed is a
// compare-and-set like ConsumeAuthCode.
type TokenStore interface {
	CreateFamily(ctx context.Context, family *TokenFamily) error
	GetFamily(ctx context.Context, familyID string) (*TokenFamily, error)
	FamiliesForCode(ctx context.Context, codeHash string) ([]string, error)
	RevokeFamily(ctx context.Context, familyID string, at time.Time) error

	SaveTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error
	GetAccessToken(ctx context.Context, jti string) (*AccessToken, error)
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	MarkRefreshTokenUsed(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	RevokeAccessToken(ctx context.Context, jti string, at time.Time) error
	RevokeRefreshToken(ctx context.Context, tokenHash string, at time.Time) error
}

// Store is the full persistence surface used by the oauth components.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
	Ping(ctx context.Context) error
	Close() error
}

// OpenStore opens the SQL store described by cfg and, when REDIS_URL is
// set, moves authorization codes to Redis.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	sqlStore, err := OpenSQLStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return sqlStore, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = sqlStore.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return WithCodeStore(sqlStore, NewRedisCodeStore(client)), nil
}

// WithCodeStore returns base with its authorization codes served by codes.
func WithCodeStore(base Store, codes CodeStore) Store {
	return &splitStore{Store: base, codes: codes}
}

type splitStore struct {
	Store
	codes CodeStore
}

func (s *splitStore) SaveAuthCode(ctx context.Context, code *AuthCode) error {
	return s.codes.SaveAuthCode(ctx, code)
}

func (s *splitStore) GetAuthCode(ctx context.Context, codeHash string) (*AuthCode, error) {
	return s.codes.GetAuthCode(ctx, codeHash)
}

func (s *splitStore) ConsumeAuthCode(ctx context.Context, codeHash string, at time.Time) (bool, error) {
	return s.codes.ConsumeAuthCode(ctx, codeHash, at)
}

func (s *splitStore) Ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return err
	}
	if p, ok := s.codes.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *splitStore) Close() error {
	var errs []error
	if c, ok := s.codes.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}

// Purger is implemented by stores that can drop expired rows.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

func (s *splitStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if p, ok := s.Store.(Purger); ok {
		return p.PurgeExpired(ctx, cutoff)
	}
	return 0, nil
}

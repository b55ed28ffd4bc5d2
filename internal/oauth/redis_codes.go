package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// codeRetention keeps consumed or expired codes around long enough to
// recognise a replay.
const codeRetention = 24 * time.Hour

// RedisCodeStore keeps authorization codes in Redis. The consumed marker is
// a separate key set with SETNX, which is the compare-and-set.
type RedisCodeStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client, prefix: "oauth:code:", retention: codeRetention, now: time.Now}
}

type redisCode struct {
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (s *RedisCodeStore) codeKey(hash string) string     { return s.prefix + hash }
func (s *RedisCodeStore) consumedKey(hash string) string { return s.prefix + hash + ":consumed" }

func (s *RedisCodeStore) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisCodeStore) SaveAuthCode(ctx context.Context, code *AuthCode) error {
	payload, err := json.Marshal(redisCode{
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		RedirectURI: code.RedirectURI,
		State:       code.State,
		CreatedAt:   toNanos(code.CreatedAt),
		ExpiresAt:   toNanos(code.ExpiresAt),
	})
	if err != nil {
		return fmt.Errorf("encode auth code: %w", err)
	}
	if err := s.client.Set(ctx, s.codeKey(code.CodeHash), payload, s.ttl(code.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("save auth code: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) GetAuthCode(ctx context.Context, codeHash string) (*AuthCode, error) {
	vals, err := s.client.MGet(ctx, s.codeKey(codeHash), s.consumedKey(codeHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("get auth code: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	var rc redisCode
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		return nil, fmt.Errorf("decode auth code: %w", err)
	}
	code := &AuthCode{
		CodeHash:    codeHash,
		ClientID:    rc.ClientID,
		UserID:      rc.UserID,
		RedirectURI: rc.RedirectURI,
		State:       rc.State,
		CreatedAt:   fromNanos(rc.CreatedAt),
		ExpiresAt:   fromNanos(rc.ExpiresAt),
	}
	if marker, ok := vals[1].(string); ok {
		if n, err := strconv.ParseInt(marker, 10, 64); err == nil {
			t := fromNanos(n)
			code.ConsumedAt = &t
		}
	}
	return code, nil
}

func (s *RedisCodeStore) ConsumeAuthCode(ctx context.Context, codeHash string, at time.Time) (bool, error) {
	exists, err := s.client.Exists(ctx, s.codeKey(codeHash)).Result()
	if err != nil {
		return false, fmt.Errorf("consume auth code: %w", err)
	}
	if exists == 0 {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.consumedKey(codeHash), strconv.FormatInt(toNanos(at), 10), s.retention).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("consume auth code: %w", err)
	}
	return ok, nil
}

func (s *RedisCodeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCodeStore) Close() error {
	return s.client.Close()
}

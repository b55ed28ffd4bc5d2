package oauth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRedisCodes(t *testing.T) (*RedisCodeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCodeStore(client), mr
}

func saveCode(t *testing.T, s *RedisCodeStore, hash string, now time.Time) {
	t.Helper()
	require.NoError(t, s.SaveAuthCode(context.Background(), &AuthCode{
		CodeHash: hash, ClientID: "c", UserID: "u", RedirectURI: "https://a/cb", State: "xyz",
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}))
}

func TestRedisCodeStoreRoundTrip(t *testing.T) {
	s, _ := newRedisCodes(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	saveCode(t, s, "h1", now)

	rec, err := s.GetAuthCode(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "c", rec.ClientID)
	assert.Equal(t, "u", rec.UserID)
	assert.Equal(t, "https://a/cb", rec.RedirectURI)
	assert.Equal(t, "xyz", rec.State)
	assert.True(t, now.Equal(rec.CreatedAt))
	assert.True(t, now.Add(time.Minute).Equal(rec.ExpiresAt))
	assert.False(t, rec.Consumed())

	_, err = s.GetAuthCode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Ping(ctx))
}

func TestRedisCodeStoreConsumeConcurrentAtMostOnce(t *testing.T) {
	s, _ := newRedisCodes(t)
	ctx := context.Background()
	now := time.Now().UTC()
	saveCode(t, s, "h1", now)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeAuthCode(ctx, "h1", now)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := s.ConsumeAuthCode(ctx, "unknown", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCodeStoreConsumedCodeStaysReadable(t *testing.T) {
	s, mr := newRedisCodes(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	saveCode(t, s, "h1", now)

	consumedAt := now.Add(5 * time.Second)
	ok, err := s.ConsumeAuthCode(ctx, "h1", consumedAt)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.GetAuthCode(ctx, "h1")
	require.NoError(t, err)
	require.True(t, rec.Consumed())
	assert.True(t, consumedAt.Equal(*rec.ConsumedAt))

	// Past expires_at the record is still there for replay detection.
	mr.FastForward(2 * time.Minute)
	rec, err = s.GetAuthCode(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, rec.Consumed())

	ok, err = s.ConsumeAuthCode(ctx, "h1", consumedAt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCodeStoreExpiresAfterRetention(t *testing.T) {
	s, mr := newRedisCodes(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.retention = time.Hour
	saveCode(t, s, "h1", now)

	assert.Equal(t, time.Minute+time.Hour, mr.TTL(s.codeKey("h1")))

	mr.FastForward(time.Minute + time.Hour + time.Second)
	_, err := s.GetAuthCode(ctx, "h1")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.ConsumeAuthCode(ctx, "h1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCodesBackTheAuthorizationFlow(t *testing.T) {
	cfg := testConfig()
	clock := newFakeClock()
	sqlStore := newTestStore(t)
	codes, _ := newRedisCodes(t)
	codes.now = clock.Now
	store := WithCodeStore(sqlStore, codes)
	opts := []Option{WithClock(clock.Now), WithBcryptCost(bcrypt.MinCost)}

	registry, err := NewRegistry(store, time.Minute, opts...)
	require.NoError(t, err)
	flow := NewAuthorizationFlow(cfg, registry, store, store, opts...)
	tokens := NewTokenService(cfg, sharedKeys(t), store, registry, flow, opts...)
	env := &testEnv{cfg: cfg, clock: clock, store: sqlStore, registry: registry, flow: flow, tokens: tokens}

	ctx := context.Background()
	reg := env.register(t, testRedirect)
	code := env.approve(t, reg, testRedirect, "xyz")

	_, err = sqlStore.GetAuthCode(ctx, HashToken(code))
	assert.ErrorIs(t, err, ErrNotFound)

	pair, err := tokens.ExchangeCode(ctx, consumeReq(reg, code, testRedirect))
	require.NoError(t, err)

	_, err = tokens.ExchangeCode(ctx, consumeReq(reg, code, testRedirect))
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = tokens.VerifyAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

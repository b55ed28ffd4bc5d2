package oauth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", dialectPostgres.rebind(q))
	assert.Equal(t, q, dialectSQLite.rebind(q))
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		raw, driver, dsn string
		d                dialect
	}{
		{"postgres://u:p@db/track", "postgres", "postgres://u:p@db/track", dialectPostgres},
		{"postgresql://db/track", "postgres", "postgresql://db/track", dialectPostgres},
		{"sqlite::memory:", "sqlite", ":memory:", dialectSQLite},
		{"sqlite:///var/lib/track.db", "sqlite", "/var/lib/track.db", dialectSQLite},
		{"track.db", "sqlite", "track.db", dialectSQLite},
	}
	for _, tt := range tests {
		driver, dsn, d := parseDatabaseURL(tt.raw)
		assert.Equal(t, tt.driver, driver, tt.raw)
		assert.Equal(t, tt.dsn, dsn, tt.raw)
		assert.Equal(t, tt.d, d, tt.raw)
	}
}

func TestSQLStoreClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := &Client{
		ClientID:         "track_abc",
		ClientSecretHash: "hash",
		ClientName:       "Agent",
		RedirectURIs:     []string{"https://a.example/cb", "http://localhost:9000/cb"},
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
	require.NoError(t, s.SaveClient(ctx, c))
	assert.Error(t, s.SaveClient(ctx, c), "client ids are never overwritten")

	got, err := s.GetClient(ctx, "track_abc")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreConsumeAuthCodeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SaveAuthCode(ctx, &AuthCode{
		CodeHash: "h1", ClientID: "c", UserID: "u", RedirectURI: "https://a/cb", State: "xyz",
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

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

	rec, err := s.GetAuthCode(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, rec.Consumed())
	assert.Equal(t, "xyz", rec.State)

	ok, err := s.ConsumeAuthCode(ctx, "unknown", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLStoreFamilyRevocationCoversTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateFamily(ctx, &TokenFamily{FamilyID: "f1", ClientID: "c", UserID: "u", CodeHash: "code", CreatedAt: now}))
	access := &AccessToken{JTI: "j1", FamilyID: "f1", ClientID: "c", UserID: "u", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	refresh := &RefreshToken{TokenHash: "r1", FamilyID: "f1", ClientID: "c", UserID: "u", AccessJTI: "j1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

	ids, err := s.FamiliesForCode(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ids)

	require.NoError(t, s.RevokeFamily(ctx, "f1", now))

	a, err := s.GetAccessToken(ctx, "j1")
	require.NoError(t, err)
	assert.NotNil(t, a.RevokedAt)
	r, err := s.GetRefreshToken(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, r.Revoked())

	// A token written into a revoked family reads as revoked.
	late := &AccessToken{JTI: "j2", FamilyID: "f1", ClientID: "c", UserID: "u", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	lateRefresh := &RefreshToken{TokenHash: "r2", FamilyID: "f1", ClientID: "c", UserID: "u", AccessJTI: "j2", RotatedFrom: "r1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.SaveTokenPair(ctx, late, lateRefresh))
	a, err = s.GetAccessToken(ctx, "j2")
	require.NoError(t, err)
	assert.NotNil(t, a.RevokedAt)
}

func TestSQLStoreMarkRefreshTokenUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateFamily(ctx, &TokenFamily{FamilyID: "f", ClientID: "c", UserID: "u", CreatedAt: now}))
	require.NoError(t, s.SaveTokenPair(ctx,
		&AccessToken{JTI: "j", FamilyID: "f", ClientID: "c", UserID: "u", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		&RefreshToken{TokenHash: "r", FamilyID: "f", ClientID: "c", UserID: "u", AccessJTI: "j", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	))

	ok, err := s.MarkRefreshTokenUsed(ctx, "r", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkRefreshTokenUsed(ctx, "r", now)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.GetRefreshToken(ctx, "r")
	require.NoError(t, err)
	assert.True(t, rec.Used())
	assert.Empty(t, rec.RotatedFrom)
}

func TestSQLStorePurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SaveAuthCode(ctx, &AuthCode{CodeHash: "old", ClientID: "c", UserID: "u", RedirectURI: "r", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveAuthCode(ctx, &AuthCode{CodeHash: "new", ClientID: "c", UserID: "u", RedirectURI: "r", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	n, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetAuthCode(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAuthCode(ctx, "new")
	assert.NoError(t, err)
}

func TestWithCodeStoreRoutesCodes(t *testing.T) {
	base := newTestStore(t)
	codes := newTestStore(t)
	split := WithCodeStore(base, codes)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, split.SaveAuthCode(ctx, &AuthCode{CodeHash: "h", ClientID: "c", UserID: "u", RedirectURI: "r", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	_, err := codes.GetAuthCode(ctx, "h")
	assert.NoError(t, err)
	_, err = base.GetAuthCode(ctx, "h")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, split.Ping(ctx))
}

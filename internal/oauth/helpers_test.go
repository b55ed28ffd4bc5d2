package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	testKeysOnce sync.Once
	testKeys     *KeyManager
	testKeysErr  error
)

func sharedKeys(t *testing.T) *KeyManager {
	t.Helper()
	testKeysOnce.Do(func() { testKeys, testKeysErr = GenerateKeyManager(2048) })
	require.NoError(t, testKeysErr)
	return testKeys
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		Issuer:             "https://auth.track.test",
		Audience:           "https://auth.track.test",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		AuthCodeTTL:        10 * time.Minute,
		ReuseRevokesFamily: true,
		DCRMode:            DCRModeOpen,
	}
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), StoreConfig{DatabaseURL: "sqlite::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type testEnv struct {
	cfg      Config
	clock    *fakeClock
	store    *SQLStore
	registry *Registry
	flow     *AuthorizationFlow
	tokens   *TokenService
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	clock := newFakeClock()
	store := newTestStore(t)
	opts := []Option{WithClock(clock.Now), WithBcryptCost(bcrypt.MinCost)}

	registry, err := NewRegistry(store, time.Minute, opts...)
	require.NoError(t, err)
	flow := NewAuthorizationFlow(cfg, registry, store, store, opts...)
	tokens := NewTokenService(cfg, sharedKeys(t), store, registry, flow, opts...)
	return &testEnv{cfg: cfg, clock: clock, store: store, registry: registry, flow: flow, tokens: tokens}
}

func (e *testEnv) register(t *testing.T, redirect string) *Registration {
	t.Helper()
	reg, err := e.registry.Register(context.Background(), "Agent", []string{redirect})
	require.NoError(t, err)
	return reg
}

// approve runs authorize_request and approve for user-1 and returns the code.
func (e *testEnv) approve(t *testing.T, reg *Registration, redirect, state string) string {
	t.Helper()
	ctx := context.Background()
	req, err := e.flow.AuthorizeRequest(ctx, reg.Client.ClientID, redirect, state)
	require.NoError(t, err)
	approval, err := e.flow.Approve(ctx, req, "user-1")
	require.NoError(t, err)
	return approval.Code
}

// pair returns a token pair obtained through a code exchange.
func (e *testEnv) pair(t *testing.T, reg *Registration) *TokenPair {
	t.Helper()
	redirect := reg.Client.RedirectURIs[0]
	code := e.approve(t, reg, redirect, "s")
	p, err := e.tokens.ExchangeCode(context.Background(), ExchangeRequest{
		Code:         code,
		ClientID:     reg.Client.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURI:  redirect,
	})
	require.NoError(t, err)
	return p
}

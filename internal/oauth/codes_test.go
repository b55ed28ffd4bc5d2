package oauth

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirect = "https://a.example/cb"

func consumeReq(reg *Registration, code, redirect string) ConsumeRequest {
	return ConsumeRequest{
		Code:         code,
		ClientID:     reg.Client.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURI:  redirect,
	}
}

func TestAuthorizeRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, testRedirect)

	req, err := env.flow.AuthorizeRequest(ctx, reg.Client.ClientID, testRedirect, "xyz")
	require.NoError(t, err)
	assert.Equal(t, "Agent", req.ClientName)
	assert.Equal(t, "xyz", req.State)

	_, err = env.flow.AuthorizeRequest(ctx, "track_unknown", testRedirect, "xyz")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = env.flow.AuthorizeRequest(ctx, reg.Client.ClientID, testRedirect+"/", "xyz")
	assert.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestApproveRedirectEchoesState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "https://a.example/cb?tenant=7")

	state := "a b&c=d/é"
	req, err := env.flow.AuthorizeRequest(ctx, reg.Client.ClientID, "https://a.example/cb?tenant=7", state)
	require.NoError(t, err)
	approval, err := env.flow.Approve(ctx, req, "user-1")
	require.NoError(t, err)

	u, err := url.Parse(approval.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "a.example", u.Host)
	assert.Equal(t, "/cb", u.Path)
	assert.Equal(t, state, u.Query().Get("state"))
	assert.Equal(t, approval.Code, u.Query().Get("code"))
	assert.Equal(t, "7", u.Query().Get("tenant"))
	assert.Equal(t, env.clock.Now().Add(env.cfg.AuthCodeTTL), approval.ExpiresAt)

	stored, err := env.store.GetAuthCode(ctx, HashToken(approval.Code))
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
}

func TestDenyRedirect(t *testing.T) {
	env := newTestEnv(t)
	target, err := env.flow.DenyRedirect(&AuthRequest{RedirectURI: testRedirect, State: "xyz"})
	require.NoError(t, err)
	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "access_denied", u.Query().Get("error"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
	assert.Empty(t, u.Query().Get("code"))
}

func TestConsumeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, testRedirect)
	code := env.approve(t, reg, testRedirect, "xyz")

	grant, err := env.flow.Consume(ctx, consumeReq(reg, code, testRedirect))
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, reg.Client.ClientID, grant.ClientID)

	_, err = env.flow.Consume(ctx, consumeReq(reg, code, testRedirect))
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestConsumeConcurrentAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, testRedirect)
	code := env.approve(t, reg, testRedirect, "xyz")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.flow.Consume(context.Background(), consumeReq(reg, code, testRedirect)); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInvalidGrant)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestConsumeExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, testRedirect)
	code := env.approve(t, reg, testRedirect, "xyz")

	env.clock.Advance(env.cfg.AuthCodeTTL)
	_, err := env.flow.Consume(context.Background(), consumeReq(reg, code, testRedirect))
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestConsumeJustBeforeExpiry(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, testRedirect)
	code := env.approve(t, reg, testRedirect, "xyz")

	env.clock.Advance(env.cfg.AuthCodeTTL - 1)
	_, err := env.flow.Consume(context.Background(), consumeReq(reg, code, testRedirect))
	assert.NoError(t, err)
}

func TestConsumeRejectsMismatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, testRedirect)
	other := env.register(t, testRedirect)
	code := env.approve(t, reg, testRedirect, "xyz")

	cases := map[string]ConsumeRequest{
		"trailing slash": consumeReq(reg, code, testRedirect+"/"),
		"scheme":         consumeReq(reg, code, "http://a.example/cb"),
		"wrong secret":   {Code: code, ClientID: reg.Client.ClientID, ClientSecret: "nope", RedirectURI: testRedirect},
		"other client":   consumeReq(other, code, testRedirect),
		"unknown code":   consumeReq(reg, "not-a-code", testRedirect),
		"empty code":     consumeReq(reg, "", testRedirect),
	}
	for name, req := range cases {
		_, err := env.flow.Consume(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidGrant, name)
	}

	// None of the rejected attempts burned the code.
	_, err := env.flow.Consume(ctx, consumeReq(reg, code, testRedirect))
	assert.NoError(t, err)
}

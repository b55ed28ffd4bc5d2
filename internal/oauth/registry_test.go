package oauth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.registry.Register(ctx, "  Agent ", []string{"https://a.example/cb", "https://a.example/cb"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reg.Client.ClientID, "track_"))
	assert.NotEmpty(t, reg.ClientSecret)
	assert.Equal(t, "Agent", reg.Client.ClientName)
	assert.Equal(t, []string{"https://a.example/cb"}, reg.Client.RedirectURIs)

	stored, err := env.store.GetClient(ctx, reg.Client.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, reg.ClientSecret, stored.ClientSecretHash)

	c, err := env.registry.Verify(ctx, reg.Client.ClientID, reg.ClientSecret)
	require.NoError(t, err)
	assert.Equal(t, reg.Client.ClientID, c.ClientID)

	_, err = env.registry.Verify(ctx, reg.Client.ClientID, "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = env.registry.Verify(ctx, "track_unknown", reg.ClientSecret)
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = env.registry.Verify(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestRegistryRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.registry.Register(ctx, "Agent", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "redirect_uri")

	_, err = env.registry.Register(ctx, "", []string{"https://a.example/cb"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")

	_, err = env.registry.Register(ctx, strings.Repeat("x", 101), []string{"https://a.example/cb"})
	require.ErrorAs(t, err, &verr)

	_, err = env.registry.Register(ctx, "Agent", []string{"http://evil.example/cb"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "redirect_uri")
}

func TestRegistryValidateRedirectExactMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "https://a.example/cb")
	id := reg.Client.ClientID

	assert.True(t, env.registry.ValidateRedirect(ctx, id, "https://a.example/cb"))
	assert.False(t, env.registry.ValidateRedirect(ctx, id, "https://a.example/cb/"))
	assert.False(t, env.registry.ValidateRedirect(ctx, id, "http://a.example/cb"))
	assert.False(t, env.registry.ValidateRedirect(ctx, id, "https://a.example/cb?x=1"))
	assert.False(t, env.registry.ValidateRedirect(ctx, id, "https://a.example/"))
	assert.False(t, env.registry.ValidateRedirect(ctx, "track_unknown", "https://a.example/cb"))
}

func TestValidateRedirectURI(t *testing.T) {
	tests := []struct {
		uri string
		ok  bool
	}{
		{"https://a.example/cb", true},
		{"http://localhost:8080/cb", true},
		{"http://127.0.0.1/cb", true},
		{"http://[::1]:3000/cb", true},
		{"http://a.example/cb", false},
		{"https://*.example/cb", false},
		{"https://a.example/cb#frag", false},
		{"/relative", false},
		{"javascript:alert(1)", false},
		{"ftp://a.example/cb", false},
	}
	for _, tt := range tests {
		err := ValidateRedirectURI(tt.uri)
		if tt.ok {
			assert.NoError(t, err, tt.uri)
		} else {
			assert.Error(t, err, tt.uri)
		}
	}
}

func TestRegistryCachesClients(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "https://a.example/cb")
	_, ok := env.registry.clients.Get(reg.Client.ClientID)
	assert.True(t, ok)

	env.registry.clients.Delete(reg.Client.ClientID)
	c, err := env.registry.Get(context.Background(), reg.Client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, reg.Client.ClientID, c.ClientID)
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/providentiaww/track-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/track-mcp/cmd/mcp-server/handlers"
	oauthhttp "github.com/providentiaww/track-mcp/cmd/mcp-server/oauth"
	"github.com/providentiaww/track-mcp/internal/dispatch"
	"github.com/providentiaww/track-mcp/internal/identity"
	"github.com/providentiaww/track-mcp/internal/oauth"
	"github.com/providentiaww/track-mcp/internal/taskapi"
	"github.com/providentiaww/track-mcp/internal/tools"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

const redirectURL = "https://agent.example/callback"

type app struct {
	srv      *httptest.Server
	client   *http.Client
	provider *oauth.Provider
}

func fakeIdentityService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "wonderland" {
			http.Error(w, `{"detail":"bad credentials"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"session-1","token_type":"bearer"}`))
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer session-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"username":"alice","email":"alice@example.com","is_active":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fakeTaskAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method != http.MethodGet || r.URL.Path != "/internal/tasks" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "t1", "title": "Write tests", "owner": r.Header.Get("X-User-ID"), "status": r.URL.Query().Get("status")},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newApp(t *testing.T) *app {
	t.Helper()
	ctx := context.Background()
	store, err := oauth.OpenStore(ctx, oauth.StoreConfig{DatabaseURL: "sqlite::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	keys, err := oauth.GenerateKeyManager(2048)
	require.NoError(t, err)

	cfg := oauth.Config{
		Issuer:             "https://mcp.track.test",
		Audience:           "https://mcp.track.test",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    720 * time.Hour,
		AuthCodeTTL:        10 * time.Minute,
		ReuseRevokesFamily: true,
		DCRMode:            oauth.DCRModeOpen,
	}
	provider, err := oauth.NewProvider(cfg, keys, store, oauth.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	users := identity.NewClient(identity.Config{BaseURL: fakeIdentityService(t).URL}, nil)
	api := taskapi.NewHTTPClient(taskapi.HTTPConfig{BaseURL: fakeTaskAPI(t).URL, ServiceToken: "svc-token"}, nil)
	registry := tools.NewRegistry()
	bridge := dispatch.New(provider.Tokens, registry, api, dispatch.Config{CallTimeout: 5 * time.Second})
	management := handlers.NewManagementHandler(registry, cfg.Issuer, cfg.Issuer, ServiceVersion, store)

	srv := httptest.NewServer(newRouter(routes{
		logger:      zap.NewNop(),
		oauth:       oauthhttp.NewServer(cfg, keys, provider.Registry, provider.Flow, provider.Tokens, users),
		mcp:         mcp.NewServer(bridge, ServiceVersion),
		rest:        handlers.NewRestToolHandler(bridge),
		management:  management,
		auth:        auth.NewMiddleware(provider.Tokens, management.ResourceMetadataURL()),
		publicURL:   cfg.Issuer,
		corsOrigins: []string{"*"},
	}))
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &app{srv: srv, client: client, provider: provider}
}

// register uses the public registration endpoint and returns an oauth2
// config for the new client.
func (a *app) register(t *testing.T) *oauth2.Config {
	t.Helper()
	body := `{"client_name":"Test Agent","redirect_uris":["` + redirectURL + `"]}`
	resp, err := a.client.Post(a.srv.URL+"/oauth/register", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var reg struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.srv.URL + "/oauth/authorize",
			TokenURL:  a.srv.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// authorize walks the consent page the way a browser would and returns the
// code from the redirect.
func (a *app) authorize(t *testing.T, conf *oauth2.Config) string {
	t.Helper()
	authURL, err := url.Parse(conf.AuthCodeURL("xyz"))
	require.NoError(t, err)

	page, err := a.client.Get(authURL.String())
	require.NoError(t, err)
	page.Body.Close()
	require.Equal(t, http.StatusOK, page.StatusCode)

	form := authURL.Query()
	form.Set("username", "alice")
	form.Set("password", "wonderland")
	form.Set("action", "approve")
	resp, err := a.client.PostForm(a.srv.URL+"/oauth/authorize", form)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "agent.example", loc.Host)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	return loc.Query().Get("code")
}

func (a *app) ctx() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, a.client)
}

func (a *app) callTool(t *testing.T, token, name, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/api/tools/"+name, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	a := newApp(t)
	conf := a.register(t)
	code := a.authorize(t, conf)

	tok, err := conf.Exchange(a.ctx(), code)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	status, out := a.callTool(t, tok.AccessToken, "list_tasks", `{"status":"todo"}`)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "list_tasks", out["tool"])
	tasks := out["result"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "42", task["owner"])
	assert.Equal(t, "todo", task["status"])

	// The code is single use.
	_, err = conf.Exchange(a.ctx(), code)
	var rerr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "invalid_grant", rerr.ErrorCode)

	// Replay revoked the family issued from the code.
	status, out = a.callTool(t, tok.AccessToken, "list_tasks", `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", out["error"].(map[string]any)["code"])
}

func TestRefreshRotationAndReuse(t *testing.T) {
	a := newApp(t)
	conf := a.register(t)
	first, err := conf.Exchange(a.ctx(), a.authorize(t, conf))
	require.NoError(t, err)

	stale := *first
	stale.Expiry = time.Now().Add(-time.Minute)
	second, err := conf.TokenSource(a.ctx(), &stale).Token()
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.AccessToken, second.AccessToken)

	status, _ := a.callTool(t, second.AccessToken, "list_tasks", `{}`)
	require.Equal(t, http.StatusOK, status)

	// Presenting the rotated-out refresh token burns the whole family.
	resp, err := a.client.PostForm(conf.Endpoint.TokenURL, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"client_id":     {conf.ClientID},
		"client_secret": {conf.ClientSecret},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	status, _ = a.callTool(t, second.AccessToken, "list_tasks", `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	_, err = conf.TokenSource(a.ctx(), &oauth2.Token{RefreshToken: second.RefreshToken}).Token()
	assert.Error(t, err)
}

func TestRevokedTokenIsRejected(t *testing.T) {
	a := newApp(t)
	conf := a.register(t)
	tok, err := conf.Exchange(a.ctx(), a.authorize(t, conf))
	require.NoError(t, err)

	resp, err := a.client.PostForm(a.srv.URL+"/oauth/revoke", url.Values{"token": {tok.AccessToken}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, out := a.callTool(t, tok.AccessToken, "list_tasks", `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", out["error"].(map[string]any)["code"])
}

func TestMCPEndpointRequiresBearer(t *testing.T) {
	a := newApp(t)
	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`

	resp, err := a.client.Post(a.srv.URL+"/mcp", "application/json", strings.NewReader(initialize))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "https://mcp.track.test/.well-known/oauth-protected-resource")

	conf := a.register(t)
	tok, err := conf.Exchange(a.ctx(), a.authorize(t, conf))
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, a.srv.URL+"/mcp", strings.NewReader(initialize))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err = a.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	a := newApp(t)
	req, _ := http.NewRequest(http.MethodOptions, a.srv.URL+"/mcp", nil)
	req.Header.Set("Origin", "https://claude.example")
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/providentiaww/track-mcp/internal/identity"
	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/oauth"
)

const maxBodyBytes = 64 << 10

// Authenticator checks end-user credentials against the primary auth
// service.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*identity.Identity, error)
}

// Server provides the OAuth 2.0 endpoints.
type Server struct {
	cfg      oauth.Config
	keys     *oauth.KeyManager
	registry *oauth.Registry
	flow     *oauth.AuthorizationFlow
	tokens   *oauth.TokenService
	users    Authenticator
}

// NewServer creates a new OAuth server.
func NewServer(cfg oauth.Config, keys *oauth.KeyManager, registry *oauth.Registry, flow *oauth.AuthorizationFlow, tokens *oauth.TokenService, users Authenticator) *Server {
	return &Server{
		cfg:      cfg,
		keys:     keys,
		registry: registry,
		flow:     flow,
		tokens:   tokens,
		users:    users,
	}
}

// Routes mounts the endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", s.HandleWellKnown)
	r.Route("/oauth", func(r chi.Router) {
		r.Post("/register", s.HandleRegister)
		r.Get("/authorize", s.HandleAuthorize)
		r.Post("/authorize", s.HandleAuthorizeSubmit)
		r.Post("/token", s.HandleToken)
		r.Post("/revoke", s.HandleRevoke)
		r.Get("/jwks", s.HandleJWKS)
	})
}

// HandleWellKnown serves RFC 8414 metadata.
func (s *Server) HandleWellKnown(w http.ResponseWriter, r *http.Request) {
	issuer := s.cfg.Issuer
	data := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"revocation_endpoint":                   issuer + "/oauth/revoke",
		"jwks_uri":                              issuer + "/oauth/jwks",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic"},
	}
	if s.cfg.DCRMode != oauth.DCRModeDisabled {
		data["registration_endpoint"] = issuer + "/oauth/register"
	}
	writeJSON(w, http.StatusOK, data)
}

// HandleJWKS serves the public signing key.
func (s *Server) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, s.keys.JWKS())
}

type registerRequest struct {
	Name         string   `json:"name"`
	ClientName   string   `json:"client_name"`
	RedirectURI  string   `json:"redirect_uri"`
	RedirectURIs []string `json:"redirect_uris"`
}

// HandleRegister registers a client application.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	log := logging.From(r.Context()).With(logging.Component("oauth.http"), logging.Op("register"))
	switch s.cfg.DCRMode {
	case oauth.DCRModeDisabled:
		writeOAuthError(w, http.StatusForbidden, "access_denied", "client registration is disabled")
		return
	case oauth.DCRModeProtected:
		if !s.checkDCRAccess(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="register"`)
			writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "registration requires an initial access token")
			return
		}
	}

	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "body must be a JSON object")
		return
	}
	name := req.ClientName
	if name == "" {
		name = req.Name
	}
	uris := req.RedirectURIs
	if req.RedirectURI != "" {
		uris = append([]string{req.RedirectURI}, uris...)
	}

	reg, err := s.registry.Register(r.Context(), name, uris)
	var verr *oauth.ValidationError
	switch {
	case errors.As(err, &verr):
		code := "invalid_client_metadata"
		if _, ok := verr.Fields["redirect_uri"]; ok {
			code = "invalid_redirect_uri"
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             code,
			"error_description": verr.Error(),
			"fields":            verr.Fields,
		})
		return
	case err != nil:
		log.Error("register client", logging.Err(err))
		writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "registration failed")
		return
	}

	log.Info("client registered", logging.ClientID(reg.Client.ClientID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  reg.Client.ClientID,
		"client_secret":              reg.ClientSecret,
		"client_name":                reg.Client.ClientName,
		"redirect_uris":              reg.Client.RedirectURIs,
		"created_at":                 reg.Client.CreatedAt.Unix(),
		"client_id_issued_at":        reg.Client.CreatedAt.Unix(),
		"client_secret_expires_at":   0,
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "client_secret_post",
	})
}

func (s *Server) checkDCRAccess(r *http.Request) bool {
	if s.cfg.DCRAccessToken == "" {
		return false
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.DCRAccessToken)) == 1
}

// HandleAuthorize validates the request and renders the sign-in form. An
// unknown client or unregistered redirect is shown as an error page and
// never redirected to.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.authorizeRequest(w, r, r.URL.Query())
	if !ok {
		return
	}
	renderConsent(w, http.StatusOK, consentView{Request: req})
}

// HandleAuthorizeSubmit processes the consent form.
func (s *Server) HandleAuthorizeSubmit(w http.ResponseWriter, r *http.Request) {
	log := logging.From(r.Context()).With(logging.Component("oauth.http"), logging.Op("authorize"))
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		renderError(w, http.StatusBadRequest, "The authorization form could not be read.")
		return
	}
	req, ok := s.authorizeRequest(w, r, r.PostForm)
	if !ok {
		return
	}

	if r.PostForm.Get("action") == "deny" {
		target, err := s.flow.DenyRedirect(req)
		if err != nil {
			renderError(w, http.StatusBadRequest, "The redirect address is invalid.")
			return
		}
		log.Info("consent denied", logging.ClientID(req.ClientID))
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	user, err := s.users.Authenticate(r.Context(), username, r.PostForm.Get("password"))
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		renderConsent(w, http.StatusUnauthorized, consentView{Request: req, Username: username, Error: "Invalid username or password."})
		return
	case err != nil:
		log.Warn("primary auth service unavailable", logging.Err(err))
		renderConsent(w, http.StatusServiceUnavailable, consentView{Request: req, Username: username, Error: "Sign-in is temporarily unavailable. Please try again."})
		return
	}

	approval, err := s.flow.Approve(r.Context(), req, user.UserID)
	if err != nil {
		log.Error("issue authorization code", logging.Err(err))
		renderConsent(w, http.StatusServiceUnavailable, consentView{Request: req, Username: username, Error: "Sign-in is temporarily unavailable. Please try again."})
		return
	}
	log.Info("authorization code issued", logging.ClientID(req.ClientID), logging.UserID(user.UserID))
	http.Redirect(w, r, approval.RedirectURL, http.StatusFound)
}

func (s *Server) authorizeRequest(w http.ResponseWriter, r *http.Request, params url.Values) (*oauth.AuthRequest, bool) {
	if rt := params.Get("response_type"); rt != "code" {
		renderError(w, http.StatusBadRequest, "Unsupported response_type. Only \"code\" is supported.")
		return nil, false
	}
	req, err := s.flow.AuthorizeRequest(r.Context(), params.Get("client_id"), params.Get("redirect_uri"), params.Get("state"))
	switch {
	case errors.Is(err, oauth.ErrInvalidClient):
		renderError(w, http.StatusBadRequest, "Unknown application.")
		return nil, false
	case errors.Is(err, oauth.ErrInvalidRedirect):
		renderError(w, http.StatusBadRequest, "The redirect address is not registered for this application.")
		return nil, false
	case err != nil:
		logging.From(r.Context()).Error("authorize request", logging.Component("oauth.http"), logging.Err(err))
		renderError(w, http.StatusServiceUnavailable, "Authorization is temporarily unavailable.")
		return nil, false
	}
	return req, true
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// HandleToken serves the authorization_code and refresh_token grants.
// Every grant failure is reported as invalid_grant. A refresh whose client
// credentials fail is invalid_client.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	log := logging.From(r.Context()).With(logging.Component("oauth.http"), logging.Op("token"))

	params, err := requestParams(w, r)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	clientID, clientSecret, err := clientCredentials(r, params)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}

	var pair *oauth.TokenPair
	switch grant := params.Get("grant_type"); grant {
	case "authorization_code":
		if params.Get("code") == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code is required")
			return
		}
		pair, err = s.tokens.ExchangeCode(r.Context(), oauth.ExchangeRequest{
			Code:         params.Get("code"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  params.Get("redirect_uri"),
		})
	case "refresh_token":
		if params.Get("refresh_token") == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
			return
		}
		pair, err = s.tokens.Refresh(r.Context(), oauth.RefreshRequest{
			RefreshToken: params.Get("refresh_token"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
		})
	case "":
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
		return
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant_type %q is not supported", grant))
		return
	}

	switch {
	case errors.Is(err, oauth.ErrInvalidGrant):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "the grant is invalid, expired or already used")
		return
	case errors.Is(err, oauth.ErrInvalidClient):
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	case err != nil:
		log.Error("token grant", logging.ClientID(clientID), logging.Err(err))
		writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "try again later")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
	})
}

// HandleRevoke revokes an access or refresh token. It always answers 200.
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	params, err := requestParams(w, r)
	if err == nil {
		if err := s.tokens.Revoke(r.Context(), params.Get("token")); err != nil {
			logging.From(r.Context()).Error("revoke token", logging.Component("oauth.http"), logging.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// requestParams reads a form-encoded or JSON body into url.Values.
func requestParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("malformed form body")
		}
		return r.PostForm, nil
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errors.New("malformed JSON body")
	}
	params := url.Values{}
	for k, v := range body {
		switch v := v.(type) {
		case string:
			params.Set(k, v)
		case nil:
		default:
			params.Set(k, fmt.Sprint(v))
		}
	}
	return params, nil
}

// clientCredentials prefers HTTP Basic and rejects a body client_id that
// disagrees with it.
func clientCredentials(r *http.Request, params url.Values) (string, string, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return params.Get("client_id"), params.Get("client_secret"), nil
	}
	id, err := url.QueryUnescape(user)
	if err != nil {
		return "", "", errors.New("malformed basic credentials")
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return "", "", errors.New("malformed basic credentials")
	}
	if body := params.Get("client_id"); body != "" && body != id {
		return "", "", errors.New("client_id does not match basic credentials")
	}
	return id, secret, nil
}

type consentView struct {
	Request  *oauth.AuthRequest
	Username string
	Error    string
}

func renderConsent(w http.ResponseWriter, status int, view consentView) {
	render(w, status, "consent", view)
}

func renderError(w http.ResponseWriter, status int, message string) {
	render(w, status, "error", map[string]string{"Message": message})
}

func render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var pages = template.Must(template.New("pages").Parse(pageTemplates))

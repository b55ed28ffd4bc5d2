// Package identity verifies end-user credentials against the primary auth
// service. It stores no passwords.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown users, wrong passwords and
	// inactive accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnavailable means the auth service could not answer in time. It is
	// safe to retry.
	ErrUnavailable = errors.New("identity service unavailable")
)

// Identity is a verified user.
type Identity struct {
	UserID      string
	Username    string
	Email       string
	DisplayName string
}

type Config struct {
	BaseURL string        `env:"AUTH_SERVICE_URL,required"`
	Timeout time.Duration `env:"AUTH_SERVICE_TIMEOUT" envDefault:"5s"`
}

// Client talks to the primary auth service: POST /api/auth/login with form
// credentials, then GET /api/auth/me with the returned session token.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient returns a Client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type meResponse struct {
	ID          userID `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsActive    *bool  `json:"is_active"`
}

// userID accepts both string and numeric ids.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*u = userID(n.String())
	return nil
}

// Authenticate verifies username and password. The whole exchange is bound
// by the configured timeout.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var login loginResponse
	if err := c.do(req, &login); err != nil {
		return nil, err
	}
	if login.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response without token", ErrUnavailable)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("build me request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	req.Header.Set("Accept", "application/json")

	var me meResponse
	if err := c.do(req, &me); err != nil {
		return nil, err
	}
	if me.ID == "" || (me.IsActive != nil && !*me.IsActive) {
		return nil, ErrInvalidCredentials
	}
	return &Identity{
		UserID:      string(me.ID),
		Username:    me.Username,
		Email:       me.Email,
		DisplayName: me.DisplayName,
	}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, req.URL.Path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, req.URL.Path, err)
	}
	return nil
}

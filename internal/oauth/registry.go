package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/providentiaww/track-mcp/internal/cache"
)

const maxClientNameLen = 100

// Registry registers clients and verifies their credentials.
type Registry struct {
	settings
	store     ClientStore
	clients   *cache.Cache[*Client]
	dummyHash []byte
}

// NewRegistry returns a Registry over store. Clients are cached for
// cacheTTL; they are immutable once registered.
func NewRegistry(store ClientStore, cacheTTL time.Duration, opts ...Option) (*Registry, error) {
	r := &Registry{
		settings: newSettings(opts),
		store:    store,
		clients:  cache.New[*Client](cacheTTL),
	}
	dummy, err := RandomString(clientSecretBytes)
	if err != nil {
		return nil, err
	}
	// Unknown client ids are compared against this hash so that they cost
	// the same as a wrong secret.
	r.dummyHash, err = bcrypt.GenerateFromPassword([]byte(dummy), r.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("dummy client hash: %w", err)
	}
	return r, nil
}

// Registration is the one-time result of Register; ClientSecret is never
// retrievable again.
type Registration struct {
	Client       *Client
	ClientSecret string
}

// Register creates a client with a fresh id and secret.
func (r *Registry) Register(ctx context.Context, name string, redirectURIs []string) (*Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidField("name", "required")
	}
	if utf8.RuneCountInString(name) > maxClientNameLen {
		return nil, invalidField("name", fmt.Sprintf("must be at most %d characters", maxClientNameLen))
	}
	uris, err := normalizeRedirectURIs(redirectURIs)
	if err != nil {
		return nil, err
	}

	clientID, err := newClientID()
	if err != nil {
		return nil, err
	}
	secret, err := RandomString(clientSecretBytes)
	if err != nil {
		return nil, err
	}
	// bcrypt reads at most 72 bytes; 64 base64 chars carry all 48 bytes.
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), r.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash client secret: %w", err)
	}

	client := &Client{
		ClientID:         clientID,
		ClientSecretHash: string(hash),
		ClientName:       name,
		RedirectURIs:     uris,
		CreatedAt:        r.now().UTC(),
	}
	if err := r.store.SaveClient(ctx, client); err != nil {
		return nil, err
	}
	r.clients.Set(clientID, client)
	return &Registration{Client: client, ClientSecret: secret}, nil
}

// Get returns the client or ErrInvalidClient.
func (r *Registry) Get(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	if c, ok := r.clients.Get(clientID); ok {
		return c, nil
	}
	c, err := r.store.GetClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidClient
	}
	if err != nil {
		return nil, err
	}
	r.clients.Set(clientID, c)
	return c, nil
}

// Verify checks client credentials. Every failure returns ErrInvalidClient
// after a bcrypt comparison.
func (r *Registry) Verify(ctx context.Context, clientID, secret string) (*Client, error) {
	c, err := r.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrInvalidClient) {
			_ = bcrypt.CompareHashAndPassword(r.dummyHash, []byte(secret))
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(c.ClientSecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidClient
	}
	return c, nil
}

// ValidateRedirect reports whether uri is registered for clientID.
func (r *Registry) ValidateRedirect(ctx context.Context, clientID, uri string) bool {
	c, err := r.Get(ctx, clientID)
	if err != nil {
		return false
	}
	return c.AllowsRedirect(uri)
}

func normalizeRedirectURIs(uris []string) ([]string, error) {
	seen := make(map[string]struct{}, len(uris))
	out := make([]string, 0, len(uris))
	for _, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		if err := ValidateRedirectURI(uri); err != nil {
			return nil, invalidField("redirect_uri", err.Error())
		}
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, uri)
	}
	if len(out) == 0 {
		return nil, invalidField("redirect_uri", "at least one redirect URI is required")
	}
	return out, nil
}

// ValidateRedirectURI accepts absolute https URIs, and http only on
// loopback hosts. Fragments and wildcards are rejected.
func ValidateRedirectURI(raw string) error {
	if strings.Contains(raw, "*") {
		return fmt.Errorf("wildcards are not allowed")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URI")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return fmt.Errorf("must not contain a fragment")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("http is only allowed for loopback hosts")
	default:
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

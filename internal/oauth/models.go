package oauth

import "time"

// Client is a registered application.
type Client struct {
	ClientID         string
	ClientSecretHash string
	ClientName       string
	RedirectURIs     []string
	CreatedAt        time.Time
}

// AllowsRedirect reports whether uri is registered, by exact string match.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthRequest is an authorization request that passed client and redirect
// validation.
type AuthRequest struct {
	ClientID    string
	ClientName  string
	RedirectURI string
	State       string
}

// AuthCode is a persisted authorization code. Only the hash of the code is
// stored.
type AuthCode struct {
	CodeHash    string
	ClientID    string
	UserID      string
	RedirectURI string
	State       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// Consumed reports whether the code has been exchanged.
func (c *AuthCode) Consumed() bool { return c.ConsumedAt != nil }

// TokenFamily groups every token pair descended from one code exchange.
type TokenFamily struct {
	FamilyID  string
	ClientID  string
	UserID    string
	CodeHash  string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// AccessToken is the server-side record of a JWT access token. RevokedAt
// is also set when the owning family has been revoked.
type AccessToken struct {
	JTI       string
	FamilyID  string
	ClientID  string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// RefreshToken is a rotating refresh token. RotatedFrom points at the hash
// of the token it replaced and is only read for audit.
type RefreshToken struct {
	TokenHash   string
	FamilyID    string
	ClientID    string
	UserID      string
	AccessJTI   string
	RotatedFrom string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	RevokedAt   *time.Time
}

func (t *RefreshToken) Used() bool    { return t.UsedAt != nil }
func (t *RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// TokenPair is what the token endpoint returns.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	FamilyID     string
}

// Principal is the identity resolved from a valid access token.
type Principal struct {
	ClientID string
	UserID   string
	JTI      string
}

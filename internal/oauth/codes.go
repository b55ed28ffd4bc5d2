package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/providentiaww/track-mcp/internal/logging"
)

// FamilyRevoker revokes the token families issued from a code.
type FamilyRevoker interface {
	FamiliesForCode(ctx context.Context, codeHash string) ([]string, error)
	RevokeFamily(ctx context.Context, familyID string, at time.Time) error
}

// AuthorizationFlow runs the authorization code state machine:
// issued -> consumed, or issued -> expired/rejected.
type AuthorizationFlow struct {
	settings
	registry       *Registry
	codes          CodeStore
	families       FamilyRevoker
	ttl            time.Duration
	revokeOnReplay bool
}

func NewAuthorizationFlow(cfg Config, registry *Registry, codes CodeStore, families FamilyRevoker, opts ...Option) *AuthorizationFlow {
	return &AuthorizationFlow{
		settings:       newSettings(opts),
		registry:       registry,
		codes:          codes,
		families:       families,
		ttl:            cfg.AuthCodeTTL,
		revokeOnReplay: cfg.ReuseRevokesFamily,
	}
}

// AuthorizeRequest validates the client and redirect URI before consent is
// shown. It has no side effects.
func (f *AuthorizationFlow) AuthorizeRequest(ctx context.Context, clientID, redirectURI, state string) (*AuthRequest, error) {
	client, err := f.registry.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsRedirect(redirectURI) {
		return nil, ErrInvalidRedirect
	}
	return &AuthRequest{
		ClientID:    client.ClientID,
		ClientName:  client.ClientName,
		RedirectURI: redirectURI,
		State:       state,
	}, nil
}

// Approval is the result of consent: a code and the redirect carrying it.
type Approval struct {
	Code        string
	RedirectURL string
	ExpiresAt   time.Time
}

// Approve issues a code for an authenticated user. The caller must have
// verified the user's credentials and obtained req from AuthorizeRequest.
func (f *AuthorizationFlow) Approve(ctx context.Context, req *AuthRequest, userID string) (*Approval, error) {
	if userID == "" {
		return nil, fmt.Errorf("approve: empty user id")
	}
	code, err := RandomString(codeBytes)
	if err != nil {
		return nil, err
	}
	now := f.now().UTC()
	rec := &AuthCode{
		CodeHash:    HashToken(code),
		ClientID:    req.ClientID,
		UserID:      userID,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		CreatedAt:   now,
		ExpiresAt:   now.Add(f.ttl),
	}
	if err := f.codes.SaveAuthCode(ctx, rec); err != nil {
		return nil, err
	}
	target, err := buildRedirect(req.RedirectURI, map[string]string{"code": code, "state": req.State})
	if err != nil {
		return nil, err
	}
	return &Approval{Code: code, RedirectURL: target, ExpiresAt: rec.ExpiresAt}, nil
}

// DenyRedirect is the redirect sent when the user declines consent.
func (f *AuthorizationFlow) DenyRedirect(req *AuthRequest) (string, error) {
	return buildRedirect(req.RedirectURI, map[string]string{"error": "access_denied", "state": req.State})
}

// ConsumeRequest carries the token endpoint parameters for a code exchange.
type ConsumeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Grant is the identity bound to a consumed code.
type Grant struct {
	ClientID string
	UserID   string
	CodeHash string
}

// Consume exchanges a code exactly once. Every rejection returns
// ErrInvalidGrant; the reason is only logged. Presenting a consumed code
// revokes the token families issued from it.
func (f *AuthorizationFlow) Consume(ctx context.Context, req ConsumeRequest) (*Grant, error) {
	log := logging.From(ctx).With(logging.Component("oauth.code"), logging.Op("Consume"), logging.ClientID(req.ClientID))
	if req.Code == "" {
		return nil, ErrInvalidGrant
	}
	hash := HashToken(req.Code)
	rec, err := f.codes.GetAuthCode(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		log.Info("unknown authorization code")
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}

	now := f.now()
	if rec.Consumed() {
		f.replay(ctx, rec)
		return nil, ErrInvalidGrant
	}
	if !now.Before(rec.ExpiresAt) {
		log.Info("expired authorization code")
		return nil, ErrInvalidGrant
	}
	if rec.ClientID != req.ClientID || rec.RedirectURI != req.RedirectURI {
		log.Warn("authorization code binding mismatch")
		return nil, ErrInvalidGrant
	}
	if _, err := f.registry.Verify(ctx, req.ClientID, req.ClientSecret); err != nil {
		if errors.Is(err, ErrInvalidClient) {
			log.Warn("client authentication failed on code exchange")
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	ok, err := f.codes.ConsumeAuthCode(ctx, hash, now.UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		f.replay(ctx, rec)
		return nil, ErrInvalidGrant
	}
	return &Grant{ClientID: rec.ClientID, UserID: rec.UserID, CodeHash: hash}, nil
}

func (f *AuthorizationFlow) replay(ctx context.Context, rec *AuthCode) {
	f.metrics.Replay("authorization_code")
	audit := logging.Audit(ctx).With(
		logging.Event("code_replay"),
		logging.ClientID(rec.ClientID),
		logging.UserID(rec.UserID),
		logging.HashPrefix(rec.CodeHash),
	)
	if !f.revokeOnReplay {
		audit.Warn("consumed authorization code presented again")
		return
	}
	ids, err := f.families.FamiliesForCode(ctx, rec.CodeHash)
	if err != nil {
		audit.Error("lookup families for replayed code", logging.Err(err))
		return
	}
	for _, id := range ids {
		if err := f.families.RevokeFamily(ctx, id, f.now().UTC()); err != nil {
			audit.Error("revoke family for replayed code", logging.FamilyID(id), logging.Err(err))
			continue
		}
		audit.Warn("token family revoked after code replay", logging.FamilyID(id))
	}
	if len(ids) == 0 {
		audit.Warn("consumed authorization code presented again")
	}
}

// buildRedirect appends params to base, keeping any query it already has.
// Empty values are omitted.
func buildRedirect(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/providentiaww/track-mcp/internal/logging"
)

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// TokenService issues, verifies, rotates and revokes token pairs.
type TokenService struct {
	settings
	cfg      Config
	keys     *KeyManager
	store    TokenStore
	registry *Registry
	flow     *AuthorizationFlow
}

func NewTokenService(cfg Config, keys *KeyManager, store TokenStore, registry *Registry, flow *AuthorizationFlow, opts ...Option) *TokenService {
	return &TokenService{
		settings: newSettings(opts),
		cfg:      cfg.withDefaults(),
		keys:     keys,
		store:    store,
		registry: registry,
		flow:     flow,
	}
}

// Issue starts a new token family for (clientID, userID) and returns its
// first pair.
func (s *TokenService) Issue(ctx context.Context, clientID, userID string) (*TokenPair, error) {
	return s.issueFamily(ctx, clientID, userID, "")
}

// ExchangeRequest is the authorization_code grant.
type ExchangeRequest = ConsumeRequest

// ExchangeCode consumes a code and issues the first pair of a family bound
// to it.
func (s *TokenService) ExchangeCode(ctx context.Context, req ExchangeRequest) (*TokenPair, error) {
	grant, err := s.flow.Consume(ctx, req)
	if err != nil {
		s.metrics.GrantFailed("authorization_code")
		return nil, err
	}
	pair, err := s.issueFamily(ctx, grant.ClientID, grant.UserID, grant.CodeHash)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued("authorization_code")
	return pair, nil
}

func (s *TokenService) issueFamily(ctx context.Context, clientID, userID, codeHash string) (*TokenPair, error) {
	family := &TokenFamily{
		FamilyID:  uuid.NewString(),
		ClientID:  clientID,
		UserID:    userID,
		CodeHash:  codeHash,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateFamily(ctx, family); err != nil {
		return nil, err
	}
	return s.issuePair(ctx, family.FamilyID, clientID, userID, "")
}

func (s *TokenService) issuePair(ctx context.Context, familyID, clientID, userID, rotatedFrom string) (*TokenPair, error) {
	now := s.now().UTC()
	jti := uuid.NewString()
	access := &AccessToken{
		JTI:       jti,
		FamilyID:  familyID,
		ClientID:  clientID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(access.ExpiresAt),
			ID:        jti,
		},
		ClientID: clientID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keys.KID()
	signed, err := token.SignedString(s.keys.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	raw, err := RandomString(refreshBytes)
	if err != nil {
		return nil, err
	}
	refresh := &RefreshToken{
		TokenHash:   HashToken(raw),
		FamilyID:    familyID,
		ClientID:    clientID,
		UserID:      userID,
		AccessJTI:   jti,
		RotatedFrom: rotatedFrom,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.store.SaveTokenPair(ctx, access, refresh); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  signed,
		RefreshToken: raw,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
		FamilyID:     familyID,
	}, nil
}

func (s *TokenService) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return s.keys.PublicKey(), nil
}

// VerifyAccess resolves an access token to its principal. It checks the
// signature, issuer, audience and expiry, then the server-side record for
// revocation and client/user binding.
func (s *TokenService) VerifyAccess(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	rec, err := s.store.GetAccessToken(ctx, claims.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if rec.RevokedAt != nil || rec.ClientID != claims.ClientID || rec.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	if !s.now().Before(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &Principal{ClientID: rec.ClientID, UserID: rec.UserID, JTI: rec.JTI}, nil
}

// RefreshRequest is the refresh_token grant.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// Refresh rotates a refresh token. The presented token is marked used
// with a compare-and-set, its sibling access token is revoked, and a new
// pair in the same family is returned. A token that was already used is
// treated as stolen.
func (s *TokenService) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	pair, err := s.refresh(ctx, req)
	if err != nil {
		s.metrics.GrantFailed("refresh_token")
		return nil, err
	}
	s.metrics.TokenIssued("refresh_token")
	return pair, nil
}

func (s *TokenService) refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	log := logging.From(ctx).With(logging.Component("oauth.token"), logging.Op("Refresh"), logging.ClientID(req.ClientID))
	if req.RefreshToken == "" {
		return nil, ErrInvalidGrant
	}
	if _, err := s.registry.Verify(ctx, req.ClientID, req.ClientSecret); err != nil {
		if errors.Is(err, ErrInvalidClient) {
			log.Warn("client authentication failed on refresh")
		}
		return nil, err
	}

	hash := HashToken(req.RefreshToken)
	rec, err := s.store.GetRefreshToken(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		log.Info("unknown refresh token")
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	if rec.ClientID != req.ClientID {
		log.Warn("refresh token presented by another client", logging.HashPrefix(hash))
		return nil, ErrInvalidGrant
	}
	if rec.Used() {
		s.reuse(ctx, rec)
		return nil, ErrInvalidGrant
	}
	if rec.Revoked() {
		log.Info("revoked refresh token")
		return nil, ErrInvalidGrant
	}
	now := s.now()
	if !now.Before(rec.ExpiresAt) {
		log.Info("expired refresh token")
		return nil, ErrInvalidGrant
	}

	ok, err := s.store.MarkRefreshTokenUsed(ctx, hash, now.UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		s.reuse(ctx, rec)
		return nil, ErrInvalidGrant
	}
	if err := s.store.RevokeAccessToken(ctx, rec.AccessJTI, now.UTC()); err != nil {
		return nil, err
	}
	return s.issuePair(ctx, rec.FamilyID, rec.ClientID, rec.UserID, rec.TokenHash)
}

func (s *TokenService) reuse(ctx context.Context, rec *RefreshToken) {
	s.metrics.Replay("refresh_token")
	audit := logging.Audit(ctx).With(
		logging.Event("refresh_reuse"),
		logging.ClientID(rec.ClientID),
		logging.UserID(rec.UserID),
		logging.FamilyID(rec.FamilyID),
		logging.HashPrefix(rec.TokenHash),
	)
	if !s.cfg.ReuseRevokesFamily {
		audit.Warn("used refresh token presented again")
		return
	}
	if err := s.store.RevokeFamily(ctx, rec.FamilyID, s.now().UTC()); err != nil {
		audit.Error("revoke token family", logging.Err(err))
		return
	}
	audit.Warn("token family revoked after refresh token reuse")
}

// Revoke revokes an access token (by its jti) or a refresh token together
// with its sibling access token. Unknown tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	now := s.now().UTC()
	if strings.Count(token, ".") == 2 {
		claims := &AccessClaims{}
		_, err := jwt.ParseWithClaims(token, claims, s.keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		)
		if err == nil && claims.ID != "" {
			return s.store.RevokeAccessToken(ctx, claims.ID, now)
		}
	}

	rec, err := s.store.GetRefreshToken(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.RevokeRefreshToken(ctx, rec.TokenHash, now); err != nil {
		return err
	}
	return s.store.RevokeAccessToken(ctx, rec.AccessJTI, now)
}

// Lineage walks rotated_from back from the refresh token with the given
// hash, newest first, returning at most limit records. It is used for
// audit only.
func (s *TokenService) Lineage(ctx context.Context, tokenHash string, limit int) ([]*RefreshToken, error) {
	var chain []*RefreshToken
	for next := tokenHash; next != "" && len(chain) < limit; {
		rec, err := s.store.GetRefreshToken(ctx, next)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return chain, err
		}
		chain = append(chain, rec)
		next = rec.RotatedFrom
	}
	return chain, nil
}

// Package auth guards the MCP transports with OAuth access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/providentiaww/track-mcp/internal/dispatch"
	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/oauth"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (*oauth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*oauth.Principal)
	return p, ok && p != nil
}

// Middleware rejects requests without a valid access token. The 401
// challenge points clients at the protected resource metadata so they can
// start the authorization flow.
type Middleware struct {
	verifier         dispatch.Verifier
	resourceMetadata string
}

// NewMiddleware builds the middleware. resourceMetadata is the absolute URL
// of /.well-known/oauth-protected-resource.
func NewMiddleware(verifier dispatch.Verifier, resourceMetadata string) *Middleware {
	return &Middleware{verifier: verifier, resourceMetadata: resourceMetadata}
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight carries no credentials.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := mcp.ExtractBearer(r)
		if token == "" {
			m.challenge(w, "", "missing bearer token")
			return
		}
		principal, err := m.verifier.VerifyAccess(r.Context(), token)
		switch {
		case errors.Is(err, oauth.ErrInvalidToken), errors.Is(err, oauth.ErrTokenExpired):
			m.challenge(w, "invalid_token", "invalid or expired access token")
			return
		case err != nil:
			logging.From(r.Context()).Error("verify access token", logging.Component("auth"), logging.Err(err))
			http.Error(w, "token verification unavailable", http.StatusServiceUnavailable)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = mcp.ContextWithBearer(ctx, token)
		ctx = logging.ToContext(ctx, logging.From(ctx).With(logging.UserID(principal.UserID), logging.ClientID(principal.ClientID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) challenge(w http.ResponseWriter, code, description string) {
	value := `Bearer realm="` + mcp.ServerName + `"`
	if code != "" {
		value += fmt.Sprintf(`, error=%q, error_description=%q`, code, description)
	}
	if m.resourceMetadata != "" {
		value += fmt.Sprintf(`, resource_metadata=%q`, m.resourceMetadata)
	}
	w.Header().Set("WWW-Authenticate", value)
	http.Error(w, "Unauthorized: "+description, http.StatusUnauthorized)
}

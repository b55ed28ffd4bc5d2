package oauth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidClient   = errors.New("invalid_client")
	ErrInvalidRedirect = errors.New("invalid_redirect_uri")
	ErrInvalidGrant    = errors.New("invalid_grant")
	ErrInvalidToken    = errors.New("invalid_token")
	ErrTokenExpired    = errors.New("token_expired")

	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

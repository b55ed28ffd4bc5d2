package oauth

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/providentiaww/track-mcp/internal/metrics"
)

type settings struct {
	now        func() time.Time
	metrics    *metrics.Metrics
	bcryptCost int
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures the Registry, AuthorizationFlow and TokenService.
type Option func(*settings)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithMetrics records grants and replay events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithBcryptCost sets the bcrypt work factor for client secrets.
func WithBcryptCost(cost int) Option {
	return func(s *settings) { s.bcryptCost = cost }
}

// Package dispatch turns authenticated tool calls into internal API
// requests made on behalf of the token's user.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/metrics"
	"github.com/providentiaww/track-mcp/internal/oauth"
	"github.com/providentiaww/track-mcp/internal/taskapi"
	"github.com/providentiaww/track-mcp/internal/tools"
)

// Verifier resolves a bearer token.
type Verifier interface {
	VerifyAccess(ctx context.Context, token string) (*oauth.Principal, error)
}

// Config bounds upstream calls.
type Config struct {
	// CallTimeout applies to each attempt.
	CallTimeout time.Duration `env:"DISPATCH_CALL_TIMEOUT" envDefault:"15s"`
	// ReadRetries is the number of extra attempts for read-only tools.
	ReadRetries uint `env:"DISPATCH_READ_RETRIES" envDefault:"3"`
}

// Result is a successful call.
type Result struct {
	Tool string
	Data json.RawMessage
}

type Option func(*Bridge)

func WithMetrics(m *metrics.Metrics) Option { return func(b *Bridge) { b.metrics = m } }

// WithBackOff replaces the retry schedule for read-only tools.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(b *Bridge) { b.newBackOff = newBackOff }
}

// Bridge is safe for concurrent use.
type Bridge struct {
	verifier   Verifier
	tools      *tools.Registry
	api        taskapi.Caller
	cfg        Config
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
}

func New(verifier Verifier, registry *tools.Registry, api taskapi.Caller, cfg Config, opts ...Option) *Bridge {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	b := &Bridge{
		verifier: verifier,
		tools:    registry,
		api:      api,
		cfg:      cfg,
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 200 * time.Millisecond
			eb.MaxInterval = 2 * time.Second
			return eb
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tools exposes the catalog the bridge dispatches against.
func (b *Bridge) Tools() *tools.Registry { return b.tools }

// HandleCall verifies bearer, validates args for the named tool and executes
// it as the token's user. Failures are always *Error.
func (b *Bridge) HandleCall(ctx context.Context, bearer, toolName string, args map[string]any) (*Result, error) {
	start := time.Now()
	log := logging.From(ctx).With(logging.Component("dispatch"), logging.Tool(toolName))

	res, principal, err := b.handle(ctx, bearer, toolName, args)
	took := time.Since(start)

	outcome := "ok"
	var derr *Error
	if errors.As(err, &derr) {
		outcome = string(derr.Code)
	}
	if _, known := b.tools.Lookup(toolName); known {
		b.metrics.ToolCall(toolName, outcome, took)
	} else {
		b.metrics.ToolCall("unknown", outcome, took)
	}

	fields := []zap.Field{zap.String("outcome", outcome), logging.Duration(took)}
	if principal != nil {
		fields = append(fields, logging.UserID(principal.UserID), logging.ClientID(principal.ClientID))
	}
	switch {
	case derr == nil:
		log.Info("tool call", fields...)
	case derr.Code == CodeUpstreamTimeout || derr.Code == CodeUpstreamUnavailable || derr.Code == CodeInternal:
		log.Warn("tool call failed", append(fields, logging.Err(err))...)
	default:
		log.Info("tool call rejected", fields...)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Bridge) handle(ctx context.Context, bearer, toolName string, args map[string]any) (*Result, *oauth.Principal, error) {
	if bearer == "" {
		return nil, nil, &Error{Code: CodeUnauthorized, Message: "missing bearer token"}
	}
	principal, err := b.verifier.VerifyAccess(ctx, bearer)
	switch {
	case errors.Is(err, oauth.ErrInvalidToken) || errors.Is(err, oauth.ErrTokenExpired):
		logging.From(ctx).Debug("bearer rejected", logging.Component("dispatch"), logging.Err(err))
		return nil, nil, &Error{Code: CodeUnauthorized, Message: "invalid or expired access token"}
	case err != nil:
		logging.From(ctx).Error("verify access", logging.Component("dispatch"), logging.Err(err))
		return nil, nil, &Error{Code: CodeInternal, Message: "token verification failed", Retryable: true}
	}

	tool, ok := b.tools.Lookup(toolName)
	if !ok {
		return nil, principal, &Error{Code: CodeUnknownTool, Message: "unknown tool: " + toolName}
	}

	req, err := tool.Bind(args)
	if err != nil {
		var ae *tools.ArgumentError
		if errors.As(err, &ae) {
			return nil, principal, &Error{Code: CodeInvalidArguments, Message: "invalid arguments", Fields: ae.Fields}
		}
		return nil, principal, &Error{Code: CodeInvalidArguments, Message: err.Error()}
	}
	req.UserID = principal.UserID

	data, err := b.call(ctx, tool, req)
	if err != nil {
		return nil, principal, toError(ctx, err)
	}
	return &Result{Tool: tool.Name, Data: data}, principal, nil
}

// call runs req once, or with backoff for read-only tools whose failure
// means the request may not have been served.
func (b *Bridge) call(ctx context.Context, tool tools.Tool, req taskapi.Request) (json.RawMessage, error) {
	attempt := func() (json.RawMessage, error) {
		actx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
		return b.api.Call(actx, req)
	}
	if !tool.ReadOnly || b.cfg.ReadRetries == 0 {
		return attempt()
	}

	tries := 0
	return backoff.Retry(ctx, func() (json.RawMessage, error) {
		tries++
		data, err := attempt()
		if err == nil {
			return data, nil
		}
		var apiErr *taskapi.Error
		if ctx.Err() != nil || !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return nil, backoff.Permanent(err)
		}
		logging.From(ctx).Debug("retrying read",
			logging.Component("dispatch"), logging.Tool(tool.Name), zap.Int("attempt", tries), logging.Err(err))
		return nil, err
	},
		backoff.WithBackOff(b.newBackOff()),
		backoff.WithMaxTries(b.cfg.ReadRetries+1),
	)
}

func toError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &Error{Code: CodeCanceled, Message: "request canceled"}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Code: CodeUpstreamTimeout, Message: "upstream did not answer in time", Retryable: true}
	}

	var apiErr *taskapi.Error
	if !errors.As(err, &apiErr) {
		return &Error{Code: CodeInternal, Message: "internal error"}
	}
	switch apiErr.Kind {
	case taskapi.KindNotFound:
		return &Error{Code: CodeNotFound, Message: orDefault(apiErr.Message, "not found")}
	case taskapi.KindValidation:
		return &Error{Code: CodeValidation, Message: orDefault(apiErr.Message, "validation failed"), Fields: apiErr.Fields}
	case taskapi.KindForbidden:
		return &Error{Code: CodeForbidden, Message: "not permitted"}
	case taskapi.KindTimeout:
		return &Error{Code: CodeUpstreamTimeout, Message: "upstream did not answer in time", Retryable: true}
	case taskapi.KindUnavailable:
		return &Error{Code: CodeUpstreamUnavailable, Message: "upstream unavailable", Retryable: true}
	default:
		return &Error{Code: CodeInternal, Message: "internal error"}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

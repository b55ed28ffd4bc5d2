// Package mcp exposes the tool catalog over the Model Context Protocol.
// Every call goes through the dispatch bridge with the bearer token found in
// the request context.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/providentiaww/track-mcp/internal/dispatch"
	"github.com/providentiaww/track-mcp/internal/tools"
)

const ServerName = "track-mcp"

type contextKey string

const bearerKey contextKey = "bearer_token"

// ContextWithBearer stores the caller's access token.
func ContextWithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

// BearerFromContext returns the token stored by ContextWithBearer.
func BearerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey).(string)
	return token, ok && token != ""
}

// ExtractBearer reads an RFC 6750 bearer token from the Authorization
// header.
func ExtractBearer(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Server wraps an MCP server whose tools are the bridge's catalog.
type Server struct {
	mcp    *server.MCPServer
	bridge *dispatch.Bridge
}

func NewServer(bridge *dispatch.Bridge, version string) *Server {
	s := &Server{
		mcp: server.NewMCPServer(ServerName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		bridge: bridge,
	}
	for _, t := range bridge.Tools().List() {
		s.mcp.AddTool(toolDefinition(t), s.callHandler(t.Name))
	}
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

func toolDefinition(t tools.Tool) mcp.Tool {
	destructive := !t.ReadOnly
	return mcp.Tool{
		Name:           t.Name,
		Description:    t.Description,
		RawInputSchema: t.RawSchema(),
		Annotations: mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(t.ReadOnly),
			DestructiveHint: mcp.ToBoolPtr(destructive),
			IdempotentHint:  mcp.ToBoolPtr(t.ReadOnly),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		},
	}
}

func (s *Server) callHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, _ := BearerFromContext(ctx)
		res, err := s.bridge.HandleCall(ctx, token, name, req.GetArguments())
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(string(res.Data)), nil
	}
}

// errorResult renders a failure as a tool error so the model can read it.
// JSON-RPC errors are reserved for protocol faults.
func errorResult(err error) *mcp.CallToolResult {
	var derr *dispatch.Error
	if !errors.As(err, &derr) {
		derr = &dispatch.Error{Code: dispatch.CodeInternal, Message: "internal error"}
	}
	body, mErr := json.Marshal(dispatch.Envelope{Error: derr})
	if mErr != nil {
		return mcp.NewToolResultError(derr.Message)
	}
	return mcp.NewToolResultError(string(body))
}

func httpContext(ctx context.Context, r *http.Request) context.Context {
	return ContextWithBearer(ctx, ExtractBearer(r))
}

// StreamableHTTPHandler serves the streamable HTTP transport.
func (s *Server) StreamableHTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithHTTPContextFunc(httpContext))
}

// SSEHandler serves the legacy SSE transport on /sse and /message.
func (s *Server) SSEHandler(baseURL string) http.Handler {
	return server.NewSSEServer(s.mcp,
		server.WithBaseURL(baseURL),
		server.WithSSEContextFunc(httpContext),
	)
}

// ServeStdio serves on stdin/stdout, acting with token for every call.
func (s *Server) ServeStdio(token string) error {
	return server.ServeStdio(s.mcp, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
		return ContextWithBearer(ctx, token)
	}))
}

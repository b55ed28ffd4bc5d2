package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/tools"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ManagementHandler serves health, tool discovery and protected resource
// metadata.
type ManagementHandler struct {
	tools    *tools.Registry
	issuer   string
	resource string
	version  string
	store    Pinger
}

// NewManagementHandler creates a new management handler. issuer is the
// authorization server, resource the public base URL of this server.
func NewManagementHandler(registry *tools.Registry, issuer, resource, version string, store Pinger) *ManagementHandler {
	return &ManagementHandler{
		tools:    registry,
		issuer:   issuer,
		resource: resource,
		version:  version,
		store:    store,
	}
}

// Routes mounts the handler on r.
func (h *ManagementHandler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/api/tools", h.HandleListTools)
	r.Get("/.well-known/oauth-protected-resource", h.HandleResourceMetadata)
}

// ResourceMetadataURL is the absolute URL of the protected resource
// metadata document.
func (h *ManagementHandler) ResourceMetadataURL() string {
	return h.resource + "/.well-known/oauth-protected-resource"
}

// HandleHealth reports 503 when the token store is unreachable.
func (h *ManagementHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			logging.From(r.Context()).Warn("health check failed", logging.Component("health"), logging.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// HandleListTools lists the catalog and where to obtain a token.
func (h *ManagementHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"server":  mcp.ServerName,
		"version": h.version,
		"tools":   mcp.Describe(h.tools),
		"oauth": map[string]string{
			"metadata":               h.issuer + "/.well-known/oauth-authorization-server",
			"authorization_endpoint": h.issuer + "/oauth/authorize",
			"token_endpoint":         h.issuer + "/oauth/token",
			"registration_endpoint":  h.issuer + "/oauth/register",
		},
	})
}

// HandleResourceMetadata serves RFC 9728 metadata for the MCP endpoints.
func (h *ManagementHandler) HandleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 h.resource,
		"authorization_servers":    []string{h.issuer},
		"bearer_methods_supported": []string{"header"},
		"resource_name":            mcp.ServerName,
	})
}

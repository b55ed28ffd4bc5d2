package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/providentiaww/track-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/track-mcp/cmd/mcp-server/handlers"
	oauthhttp "github.com/providentiaww/track-mcp/cmd/mcp-server/oauth"
	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

// routes holds everything newRouter mounts.
type routes struct {
	logger      *zap.Logger
	oauth       *oauthhttp.Server
	mcp         *mcp.Server
	rest        *handlers.RestToolHandler
	management  *handlers.ManagementHandler
	auth        *auth.Middleware
	metrics     http.Handler
	publicURL   string
	corsOrigins []string
}

func newRouter(d routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(d.corsOrigins))

	d.oauth.Routes(r)
	d.management.Routes(r)
	d.rest.Routes(r)
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.auth.Handler)
		r.Handle("/mcp", d.mcp.StreamableHTTPHandler())
		sse := d.mcp.SSEHandler(d.publicURL)
		r.Handle("/sse", sse)
		r.Handle("/message", sse)
	})
	return r
}

// requestLogger puts a request-scoped logger in the context and logs each
// request on completion.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With(logging.RequestID(middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.ToContext(r.Context(), log)))

			// Long-lived streams are noise at info level.
			if r.URL.Path == "/sse" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}
			log.Info("http request",
				logging.Method(r.Method),
				logging.Path(r.URL.Path),
				logging.Status(ww.Status()),
				logging.Duration(time.Since(start)),
			)
		})
	}
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version")
			w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, WWW-Authenticate")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

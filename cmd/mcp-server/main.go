package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/providentiaww/track-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/track-mcp/cmd/mcp-server/handlers"
	oauthhttp "github.com/providentiaww/track-mcp/cmd/mcp-server/oauth"
	"github.com/providentiaww/track-mcp/internal/config"
	"github.com/providentiaww/track-mcp/internal/dispatch"
	"github.com/providentiaww/track-mcp/internal/identity"
	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/metrics"
	"github.com/providentiaww/track-mcp/internal/oauth"
	"github.com/providentiaww/track-mcp/internal/taskapi"
	"github.com/providentiaww/track-mcp/internal/tools"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

const ServiceVersion = "v1.0.0"

type serverConfig struct {
	Addr            string        `env:"MCP_HTTP_ADDR" envDefault:":3000"`
	PublicURL       string        `env:"MCP_PUBLIC_URL"`
	CORSOrigins     []string      `env:"MCP_CORS_ORIGINS" envDefault:"*" envSeparator:","`
	ShutdownTimeout time.Duration `env:"MCP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	PurgeInterval   time.Duration `env:"OAUTH_PURGE_INTERVAL" envDefault:"1h"`
	PurgeRetention  time.Duration `env:"OAUTH_PURGE_RETENTION" envDefault:"24h"`
	TaskTransport   string        `env:"TASK_API_TRANSPORT" envDefault:"http"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envReport := config.LoadEnv(ctx, "../../.env")
	logCfg, err := config.Parse[logging.Config]()
	if err != nil {
		return err
	}
	logCfg.Service, logCfg.Version = "mcp-server", ServiceVersion
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()
	logEnv(log, envReport)

	srvCfg, err := config.Parse[serverConfig]()
	if err != nil {
		return err
	}
	oauthCfg, err := oauth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if srvCfg.PublicURL == "" {
		srvCfg.PublicURL = oauthCfg.Issuer
	}
	srvCfg.PublicURL = strings.TrimRight(srvCfg.PublicURL, "/")

	storeCfg, err := oauth.LoadStoreConfigFromEnv()
	if err != nil {
		return err
	}
	store, err := oauth.OpenStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keyCfg, err := oauth.LoadKeyConfigFromEnv()
	if err != nil {
		return err
	}
	keys, err := oauth.LoadKeyManager(keyCfg)
	if err != nil {
		return err
	}
	if keys.Ephemeral() {
		log.Warn("using an ephemeral signing key; issued tokens will not survive a restart")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	provider, err := oauth.NewProvider(oauthCfg, keys, store, oauth.WithMetrics(m))
	if err != nil {
		return err
	}

	idCfg, err := config.Parse[identity.Config]()
	if err != nil {
		return err
	}
	users := identity.NewClient(idCfg, nil)

	api, closeAPI, err := newTaskAPI(srvCfg.TaskTransport)
	if err != nil {
		return err
	}
	defer closeAPI()

	dispatchCfg, err := config.Parse[dispatch.Config]()
	if err != nil {
		return err
	}
	registry := tools.NewRegistry()
	bridge := dispatch.New(provider.Tokens, registry, api, dispatchCfg, dispatch.WithMetrics(m))
	management := handlers.NewManagementHandler(registry, oauthCfg.Issuer, srvCfg.PublicURL, ServiceVersion, store)

	router := newRouter(routes{
		logger:      log,
		oauth:       oauthhttp.NewServer(oauthCfg, keys, provider.Registry, provider.Flow, provider.Tokens, users),
		mcp:         mcp.NewServer(bridge, ServiceVersion),
		rest:        handlers.NewRestToolHandler(bridge),
		management:  management,
		auth:        auth.NewMiddleware(provider.Tokens, management.ResourceMetadataURL()),
		metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		publicURL:   srvCfg.PublicURL,
		corsOrigins: srvCfg.CORSOrigins,
	})
	httpServer := &http.Server{
		Addr:              srvCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", srvCfg.Addr),
			zap.String("public_url", srvCfg.PublicURL),
			zap.String("issuer", oauthCfg.Issuer),
			zap.Int("tools", len(registry.List())),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	if purger, ok := store.(oauth.Purger); ok && srvCfg.PurgeInterval > 0 {
		g.Go(func() error {
			purgeLoop(gctx, log, purger, srvCfg.PurgeInterval, srvCfg.PurgeRetention)
			return nil
		})
	}
	return g.Wait()
}

func newTaskAPI(transport string) (taskapi.Caller, func(), error) {
	switch strings.ToLower(transport) {
	case "", "http":
		cfg, err := config.Parse[taskapi.HTTPConfig]()
		if err != nil {
			return nil, nil, err
		}
		if cfg.BaseURL == "" {
			return nil, nil, errors.New("TASK_API_URL is required for the http transport")
		}
		return taskapi.NewHTTPClient(cfg, nil), func() {}, nil
	case "amqp":
		cfg, err := config.Parse[taskapi.AMQPConfig]()
		if err != nil {
			return nil, nil, err
		}
		client, err := taskapi.DialAMQP(cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("TASK_API_TRANSPORT must be http or amqp, got %q", transport)
	}
}

// purgeLoop drops expired codes and tokens once they are past retention.
func purgeLoop(ctx context.Context, log *zap.Logger, purger oauth.Purger, every, retention time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn("purge expired oauth rows", logging.Err(err))
				continue
			}
			if n > 0 {
				log.Info("purged expired oauth rows", zap.Int64("rows", n))
			}
		}
	}
}

func logEnv(log *zap.Logger, rep config.Report) {
	if rep.SecretID != "" {
		if rep.SecretErr != nil {
			log.Warn("aws secrets not applied", zap.String("secret_id", rep.SecretID), logging.Err(rep.SecretErr))
		} else {
			log.Info("aws secrets applied", zap.String("secret_id", rep.SecretID), zap.Int("keys", rep.SecretsApplied))
		}
	}
	if !rep.DotEnvLoaded && os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		log.Info(".env file not found, using process environment", zap.String("path", rep.DotEnvPath))
	}
}

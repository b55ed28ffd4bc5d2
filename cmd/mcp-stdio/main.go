// Command mcp-stdio serves the tool catalog on stdin/stdout for local MCP
// clients. Every call acts as the holder of TRACK_ACCESS_TOKEN, which is
// verified against the same token store as the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/providentiaww/track-mcp/internal/config"
	"github.com/providentiaww/track-mcp/internal/dispatch"
	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/oauth"
	"github.com/providentiaww/track-mcp/internal/taskapi"
	"github.com/providentiaww/track-mcp/internal/tools"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

const ServiceVersion = "v1.0.0"

type stdioConfig struct {
	AccessToken string `env:"TRACK_ACCESS_TOKEN"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-stdio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadEnv(ctx, "../../.env")
	logCfg, err := config.Parse[logging.Config]()
	if err != nil {
		return err
	}
	logCfg.Service, logCfg.Version = "mcp-stdio", ServiceVersion
	// zap writes to stderr, leaving stdout to the protocol.
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	cfg, err := config.Parse[stdioConfig]()
	if err != nil {
		return err
	}
	if cfg.AccessToken == "" {
		return errors.New("TRACK_ACCESS_TOKEN is required")
	}

	oauthCfg, err := oauth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
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
	provider, err := oauth.NewProvider(oauthCfg, keys, store)
	if err != nil {
		return err
	}

	principal, err := provider.Tokens.VerifyAccess(ctx, cfg.AccessToken)
	if err != nil {
		return fmt.Errorf("TRACK_ACCESS_TOKEN rejected: %w", err)
	}
	log.Info("serving stdio", logging.UserID(principal.UserID), logging.ClientID(principal.ClientID))

	httpCfg, err := config.Parse[taskapi.HTTPConfig]()
	if err != nil {
		return err
	}
	if httpCfg.BaseURL == "" {
		return errors.New("TASK_API_URL is required")
	}
	dispatchCfg, err := config.Parse[dispatch.Config]()
	if err != nil {
		return err
	}
	bridge := dispatch.New(provider.Tokens, tools.NewRegistry(), taskapi.NewHTTPClient(httpCfg, nil), dispatchCfg)
	return mcp.NewServer(bridge, ServiceVersion).ServeStdio(cfg.AccessToken)
}

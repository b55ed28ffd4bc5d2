package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/providentiaww/track-mcp/cmd/task-service/handlers"
	"github.com/providentiaww/track-mcp/internal/config"
	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/taskapi"
)

const ServiceVersion = "v1.0.0"

type AppConfig struct {
	TaskAPI struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"taskapi"`
	Worker struct {
		Concurrency int `yaml:"concurrency"`
		Prefetch    int `yaml:"prefetch"`
	} `yaml:"worker"`
}

// loadAppConfig reads config.yaml when present. Missing values fall back to
// defaults.
func loadAppConfig(path string) (AppConfig, time.Duration, error) {
	var cfg AppConfig
	cfg.Worker.Concurrency = 16
	cfg.Worker.Prefetch = 32
	timeout := 10 * time.Second

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, timeout, nil
	}
	if err != nil {
		return cfg, timeout, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, timeout, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.TaskAPI.Timeout != "" {
		d, err := time.ParseDuration(cfg.TaskAPI.Timeout)
		if err != nil {
			return cfg, timeout, fmt.Errorf("taskapi.timeout: %w", err)
		}
		timeout = d
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.Prefetch < cfg.Worker.Concurrency {
		cfg.Worker.Prefetch = cfg.Worker.Concurrency
	}
	return cfg, timeout, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "task-service: %v\n", err)
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
	logCfg.Service, logCfg.Version = "task-service", ServiceVersion
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	appCfg, timeout, err := loadAppConfig("config.yaml")
	if err != nil {
		return err
	}
	httpCfg, err := config.Parse[taskapi.HTTPConfig]()
	if err != nil {
		return err
	}
	if httpCfg.BaseURL == "" {
		return errors.New("TASK_API_URL is required")
	}
	amqpCfg, err := config.Parse[taskapi.AMQPConfig]()
	if err != nil {
		return err
	}
	if amqpCfg.URL == "" {
		return errors.New("AMQP_URL is required")
	}

	service := handlers.NewService(taskapi.NewHTTPClient(httpCfg, nil), timeout)

	conn, err := amqp.Dial(amqpCfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(amqpCfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", amqpCfg.Queue, err)
	}
	if err := ch.Qos(appCfg.Worker.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(amqpCfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	log.Info("task service running",
		zap.String("queue", amqpCfg.Queue),
		zap.Int("concurrency", appCfg.Worker.Concurrency),
		logging.Duration(timeout),
	)

	g := new(errgroup.Group)
	g.SetLimit(appCfg.Worker.Concurrency)
	pub := &replier{ch: ch}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case amqpErr := <-closed:
			_ = g.Wait()
			return fmt.Errorf("amqp connection closed: %v", amqpErr)
		case d, ok := <-msgs:
			if !ok {
				break loop
			}
			// Ack on receipt. Writes are not idempotent, so a crash mid-call
			// must not redeliver.
			if err := d.Ack(false); err != nil {
				log.Warn("ack delivery", logging.Err(err))
			}
			g.Go(func() error {
				reply := service.HandleRequest(ctx, d.Body)
				if d.ReplyTo == "" {
					return nil
				}
				if err := pub.publish(ctx, d.ReplyTo, d.CorrelationId, reply); err != nil {
					log.Warn("publish reply", zap.String("correlation_id", d.CorrelationId), logging.Err(err))
				}
				return nil
			})
		}
	}

	log.Info("shutting down task service")
	return g.Wait()
}

// Package main consumes sweep triggers from SQS and runs one scheduler sweep
// per received batch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/dca/internal/adapters/inbound/http"
	sqsadapter "github.com/archon-research/dca/internal/adapters/outbound/sqs"
	"github.com/archon-research/dca/internal/adapters/outbound/telemetry"
	"github.com/archon-research/dca/internal/engine"
	"github.com/archon-research/dca/internal/pkg/env"
	"github.com/archon-research/dca/internal/services/due_scheduler"
	"github.com/archon-research/dca/internal/services/sweep_trigger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	queueURL   string
	healthAddr string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("dca-sweep-worker", flag.ContinueOnError)
	queueURL := fs.String("queue", "", "SQS queue URL")
	healthAddr := fs.String("health-addr", env.Get("HEALTH_ADDR", ":8080"), "health probe listen address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{queueURL: *queueURL, healthAddr: *healthAddr}
	if cfg.queueURL == "" {
		cfg.queueURL = env.Get("AWS_SQS_QUEUE_URL", "")
	}
	if cfg.queueURL == "" {
		return cliConfig{}, fmt.Errorf("queue URL not provided (use -queue flag or AWS_SQS_QUEUE_URL env var)")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	logger.Info("starting sweep worker", "queue", cfg.queueURL)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  "dca-sweep-worker",
		Environment:  env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("failed to flush metrics", "error", err)
		}
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
	)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	if endpoint := env.Get("AWS_SQS_ENDPOINT", ""); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}

	consumer, err := sqsadapter.NewConsumer(awsCfg, sqsadapter.Config{QueueURL: cfg.queueURL}, logger)
	if err != nil {
		return fmt.Errorf("creating SQS consumer: %w", err)
	}
	defer consumer.Close()

	engineCfg, err := engine.ConfigFromEnv()
	if err != nil {
		return err
	}
	eng, err := engine.New(ctx, engineCfg, due_scheduler.Config{}, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("error closing engine", "error", err)
		}
	}()

	worker, err := sweep_trigger.NewService(sweep_trigger.Config{}, consumer, eng.Scheduler, logger)
	if err != nil {
		return fmt.Errorf("creating sweep trigger: %w", err)
	}

	var shuttingDown atomic.Bool
	health := httpadapter.NewServer(
		httpadapter.ServerConfig{Addr: cfg.healthAddr, Logger: logger, WriteTimeout: 5 * time.Second},
		httpadapter.NewHealthHandler(eng.Scheduler, &shuttingDown, logger),
	)
	health.Start()

	if err := eng.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting sweep trigger: %w", err)
	}
	logger.Info("service started, waiting for messages...")

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := worker.Stop(); err != nil {
			logger.Error("error stopping sweep trigger", "error", err)
		}
		if err := eng.Scheduler.Stop(); err != nil {
			logger.Error("error stopping scheduler", "error", err)
		}
		if err := health.Shutdown(5 * time.Second); err != nil {
			logger.Error("error stopping health server", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}

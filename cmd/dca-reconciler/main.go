// Package main mirrors order-book orders into the local order store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/archon-research/dca/internal/adapters/outbound/orderbook"
	"github.com/archon-research/dca/internal/adapters/outbound/postgres"
	"github.com/archon-research/dca/internal/pkg/env"
	"github.com/archon-research/dca/internal/services/status_reconciler"
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
	dbURL        string
	orderBookURL string
	pollInterval time.Duration
	once         bool
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("dca-reconciler", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	bookURL := fs.String("orderbook", env.Get("ORDERBOOK_BASE_URL", "https://api.cow.fi/mainnet"), "order book API root")
	interval := fs.Duration("interval", env.GetDuration("RECONCILE_INTERVAL", 5*time.Minute), "reconciliation period")
	once := fs.Bool("once", false, "run a single pass and exit")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:        *dbURL,
		orderBookURL: *bookURL,
		pollInterval: *interval,
		once:         *once,
	}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.dbURL == "" {
		return cliConfig{}, fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
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

	poolCfg := postgres.DefaultPoolConfig(cfg.dbURL)
	poolCfg.Logger = logger
	pool, err := postgres.OpenPool(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	repo, err := postgres.NewOrderRepository(pool, logger)
	if err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}

	client, err := orderbook.NewClient(orderbook.ClientConfig{BaseURL: cfg.orderBookURL, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating order book client: %w", err)
	}

	service, err := status_reconciler.NewService(repo, client, status_reconciler.Config{
		PollInterval: cfg.pollInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if cfg.once {
		report, err := service.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}
		logger.Info("reconciliation finished",
			"tracked", report.Tracked,
			"updated", report.Updated,
			"expired", report.Expired,
			"failed", report.Failed)
		return nil
	}

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	return service.Stop()
}

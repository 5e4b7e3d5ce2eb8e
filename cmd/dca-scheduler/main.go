// Package main runs the DCA scheduler: the order API, the authenticated sweep
// trigger and, when SWEEP_INTERVAL is set, a built-in sweep ticker.
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

	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/dca/internal/adapters/inbound/http"
	"github.com/archon-research/dca/internal/adapters/outbound/telemetry"
	"github.com/archon-research/dca/internal/engine"
	"github.com/archon-research/dca/internal/pkg/env"
	"github.com/archon-research/dca/internal/services/due_scheduler"
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
	addr          string
	apiToken      string
	manualSweep   bool
	sweepInterval time.Duration
	otlpEndpoint  string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("dca-scheduler", flag.ContinueOnError)
	addr := fs.String("addr", env.Get("HTTP_ADDR", ":8080"), "HTTP listen address")
	manual := fs.Bool("manual-sweep", env.GetBool("MANUAL_SWEEP_ENABLED", false), "expose the unauthenticated POST /v1/sweep/manual")
	interval := fs.Duration("sweep-interval", env.GetDuration("SWEEP_INTERVAL", 0), "built-in sweep period; 0 relies on the external trigger")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		addr:          *addr,
		apiToken:      env.Get("DCA_API_TOKEN", ""),
		manualSweep:   *manual,
		sweepInterval: *interval,
		otlpEndpoint:  env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if cfg.apiToken == "" {
		return cliConfig{}, fmt.Errorf("DCA_API_TOKEN environment variable is required")
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

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "dca-scheduler",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "dca-scheduler",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	engineCfg, err := engine.ConfigFromEnv()
	if err != nil {
		return err
	}
	eng, err := engine.New(ctx, engineCfg, due_scheduler.Config{SweepInterval: cfg.sweepInterval}, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("error closing engine", "error", err)
		}
	}()

	var shuttingDown atomic.Bool
	server := httpadapter.NewServer(
		httpadapter.ServerConfig{Addr: cfg.addr, Logger: logger},
		httpadapter.NewHealthHandler(eng.Scheduler, &shuttingDown, logger),
		httpadapter.NewHandler(eng.Orders, eng.Scheduler, httpadapter.HandlerConfig{
			Token:              cfg.apiToken,
			ManualSweepEnabled: cfg.manualSweep,
		}, logger),
	)
	server.Start()

	if err := eng.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	logger.Info("scheduler started", "addr", cfg.addr, "sweepInterval", cfg.sweepInterval, "manualSweep", cfg.manualSweep)

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	var errs []error
	if err := server.Shutdown(10 * time.Second); err != nil {
		errs = append(errs, fmt.Errorf("stopping http server: %w", err))
	}
	if err := eng.Scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := shutdownMetrics(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("flushing metrics: %w", err))
	}
	if err := shutdownTracer(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// Package engine assembles the execution engine from configuration: storage,
// chain access, quote sources, signing, locking, events and the services
// built on top of them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/archon-research/dca/internal/adapters/outbound/ethereum"
	"github.com/archon-research/dca/internal/adapters/outbound/memory"
	"github.com/archon-research/dca/internal/adapters/outbound/oneinch"
	"github.com/archon-research/dca/internal/adapters/outbound/postgres"
	"github.com/archon-research/dca/internal/adapters/outbound/redis"
	"github.com/archon-research/dca/internal/adapters/outbound/sessionkey"
	"github.com/archon-research/dca/internal/adapters/outbound/sns"
	"github.com/archon-research/dca/internal/adapters/outbound/telemetry"
	"github.com/archon-research/dca/internal/adapters/outbound/zeroex"
	"github.com/archon-research/dca/internal/pkg/allowlist"
	"github.com/archon-research/dca/internal/pkg/multicall"
	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/services/balance_verifier"
	"github.com/archon-research/dca/internal/services/credential_validator"
	"github.com/archon-research/dca/internal/services/due_scheduler"
	"github.com/archon-research/dca/internal/services/execution_orchestrator"
	"github.com/archon-research/dca/internal/services/execution_pipeline"
	"github.com/archon-research/dca/internal/services/execution_recorder"
	"github.com/archon-research/dca/internal/services/order_service"
	"github.com/archon-research/dca/internal/services/quote_aggregator"
	"github.com/archon-research/dca/internal/services/submission"
)

// Engine is the assembled set of services.
type Engine struct {
	Repository outbound.OrderRepository
	Scheduler  *due_scheduler.Service
	Orders     *order_service.Service

	closers []func() error
}

// Close releases every resource opened by New, in reverse order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// New connects every adapter described by cfg and wires the services.
// schedulerCfg configures the due scheduler; its ticker is not started.
func New(ctx context.Context, cfg Config, schedulerCfg due_scheduler.Config, logger *slog.Logger) (_ *Engine, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	repo, err := e.openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	e.Repository = repo

	list, minimums, err := loadAllowList(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("allow-list loaded", "addresses", list.Len())

	ethClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to Ethereum node: %w", err)
	}
	e.closers = append(e.closers, func() error { ethClient.Close(); return nil })

	mc, err := multicall.NewClient(ethClient, multicall.Multicall3Address)
	if err != nil {
		return nil, fmt.Errorf("creating multicall client: %w", err)
	}
	balanceReader, err := ethereum.NewBalanceReader(mc)
	if err != nil {
		return nil, fmt.Errorf("creating balance reader: %w", err)
	}
	receiptReader, err := ethereum.NewReceiptReader(ethClient, logger)
	if err != nil {
		return nil, fmt.Errorf("creating receipt reader: %w", err)
	}

	keys, err := sessionkey.ParseKeyStore(cfg.SessionKeys)
	if err != nil {
		return nil, fmt.Errorf("parsing SESSION_KEYS: %w", err)
	}
	signer, err := sessionkey.NewSigner(ethClient, keys, sessionkey.Config{ChainID: cfg.ChainID}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	logger.Info("session keys loaded", "count", keys.Len())

	locker, err := e.openLocker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	events, err := e.openEventSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	providers, err := quoteProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	balances, err := balance_verifier.NewService(balanceReader, logger)
	if err != nil {
		return nil, err
	}
	credentials := credential_validator.New()
	quotes, err := quote_aggregator.NewService(providers, metrics, quote_aggregator.Config{SlippageBps: cfg.SlippageBps}, logger)
	if err != nil {
		return nil, err
	}
	orchestrator, err := execution_orchestrator.NewService(minimums, logger)
	if err != nil {
		return nil, err
	}
	submitter, err := submission.NewService(signer, receiptReader, locker, submission.Config{
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	recorder, err := execution_recorder.NewService(repo, events, execution_recorder.Config{
		MaxConsecutiveReverts: cfg.MaxConsecutiveReverts,
	}, logger)
	if err != nil {
		return nil, err
	}

	pipeline, err := execution_pipeline.NewService(execution_pipeline.Dependencies{
		Repository:   repo,
		Balances:     balances,
		Credentials:  credentials,
		Quotes:       quotes,
		Orchestrator: orchestrator,
		Submitter:    submitter,
		Recorder:     recorder,
		AllowList:    list,
		Metrics:      metrics,
	}, execution_pipeline.Config{PendingGracePeriod: cfg.PendingGracePeriod}, logger)
	if err != nil {
		return nil, err
	}

	if schedulerCfg.MaxConcurrency == 0 {
		schedulerCfg.MaxConcurrency = cfg.MaxConcurrency
	}
	if schedulerCfg.ClaimTimeout == 0 {
		schedulerCfg.ClaimTimeout = cfg.ClaimTimeout
	}
	if schedulerCfg.InterBatchDelay == 0 {
		schedulerCfg.InterBatchDelay = cfg.InterBatchDelay
	}
	e.Scheduler, err = due_scheduler.NewService(repo, pipeline, metrics, schedulerCfg, logger)
	if err != nil {
		return nil, err
	}

	e.Orders, err = order_service.NewService(order_service.Dependencies{
		Repository:   repo,
		AllowList:    list,
		Credentials:  credentials,
		Balances:     balances,
		Orchestrator: orchestrator,
		Submitter:    submitter,
		Events:       events,
	}, order_service.Config{}, logger)
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) openRepository(ctx context.Context, cfg Config, logger *slog.Logger) (outbound.OrderRepository, error) {
	if cfg.InMemory {
		logger.Warn("using in-memory order repository; state is lost on exit")
		return memory.NewOrderRepository(), nil
	}
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.Logger = logger
	pool, err := postgres.OpenPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	e.closers = append(e.closers, func() error { pool.Close(); return nil })
	logger.Info("PostgreSQL connected")

	repo, err := postgres.NewOrderRepository(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating repository: %w", err)
	}
	return repo, nil
}

func (e *Engine) openLocker(ctx context.Context, cfg Config, logger *slog.Logger) (outbound.AccountLocker, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; signer lock is process-local, run a single instance")
		return memory.NewAccountLocker(), nil
	}
	locker, err := redis.NewAccountLocker(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating redis locker: %w", err)
	}
	e.closers = append(e.closers, locker.Close)
	if err := locker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("Redis connected", "addr", cfg.RedisAddr)
	return locker, nil
}

func (e *Engine) openEventSink(ctx context.Context, cfg Config, logger *slog.Logger) (outbound.EventSink, error) {
	if cfg.SNSExecutionsTopic == "" {
		logger.Info("SNS topics not set; events are not published")
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	var optFns []func(*awssns.Options)
	if cfg.AWSEndpoint != "" {
		optFns = append(optFns, func(o *awssns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		})
	}
	sink, err := sns.NewEventSink(awssns.NewFromConfig(awsCfg, optFns...), sns.Config{
		Topics: sns.TopicARNs{
			Executions:    cfg.SNSExecutionsTopic,
			Cancellations: cfg.SNSCancellationsTopic,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating SNS event sink: %w", err)
	}
	e.closers = append(e.closers, sink.Close)
	return sink, nil
}

func loadAllowList(cfg Config) (*allowlist.List, *allowlist.Minimums, error) {
	extra, err := allowlist.ParseAddressList(cfg.AllowListExtra)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing ALLOWLIST_EXTRA: %w", err)
	}
	list, minimums, err := allowlist.Load(cfg.AllowListPath, extra)
	if err != nil {
		return nil, nil, fmt.Errorf("loading allow-list: %w", err)
	}
	return list, minimums, nil
}

func quoteProviders(cfg Config, logger *slog.Logger) ([]outbound.QuoteProvider, error) {
	var providers []outbound.QuoteProvider
	if cfg.ZeroExAPIKey != "" {
		client, err := zeroex.NewClient(zeroex.ClientConfig{
			APIKey:      cfg.ZeroExAPIKey,
			BaseURL:     cfg.ZeroExBaseURL,
			ChainID:     cfg.ChainID.Int64(),
			SlippageBps: cfg.SlippageBps,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating 0x client: %w", err)
		}
		providers = append(providers, client)
	}
	if cfg.OneInchAPIKey != "" {
		client, err := oneinch.NewClient(oneinch.ClientConfig{
			APIKey:      cfg.OneInchAPIKey,
			ChainID:     cfg.ChainID.Int64(),
			SlippageBps: cfg.SlippageBps,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating 1inch client: %w", err)
		}
		providers = append(providers, client)
	}
	return providers, nil
}

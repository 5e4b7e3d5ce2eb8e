// Package due_scheduler selects due orders, claims them and drives each
// through the execution pipeline with bounded concurrency.
package due_scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/inbound"
	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/services/execution_pipeline"
)

const tracerName = "github.com/archon-research/dca/internal/services/due_scheduler"

var (
	_ inbound.Sweeper       = (*Service)(nil)
	_ inbound.HealthChecker = (*Service)(nil)
)

// CycleRunner executes one cycle of a claimed order.
type CycleRunner interface {
	RunCycle(ctx context.Context, order *entity.Order, previous entity.OrderStatus, now time.Time) (*execution_pipeline.Result, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// SweepInterval is the period of the built-in ticker. Zero disables it;
	// sweeps are then driven externally.
	SweepInterval time.Duration

	// MaxConcurrency bounds the number of orders processed at once.
	MaxConcurrency int

	// MaxOrdersPerSweep bounds how many due orders one sweep loads.
	MaxOrdersPerSweep int

	// OwnersPerBatch is the number of distinct owners processed between
	// inter-batch pauses.
	OwnersPerBatch int

	// InterBatchDelay throttles quote-source traffic across owners.
	InterBatchDelay time.Duration

	// ClaimTimeout releases orders stuck in executing after a crash.
	ClaimTimeout time.Duration

	// HealthWindow is how recent the last successful sweep must be for the
	// scheduler to report healthy.
	HealthWindow time.Duration
}

// ConfigDefaults returns the default scheduler configuration.
func ConfigDefaults() Config {
	return Config{
		SweepInterval:     0,
		MaxConcurrency:    8,
		MaxOrdersPerSweep: 500,
		OwnersPerBatch:    10,
		InterBatchDelay:   250 * time.Millisecond,
		ClaimTimeout:      15 * time.Minute,
		HealthWindow:      10 * time.Minute,
	}
}

// Service implements inbound.Sweeper.
type Service struct {
	repo    outbound.OrderRepository
	runner  CycleRunner
	metrics outbound.ExecutionMetrics
	config  Config
	clock   func() time.Time

	lastSweep atomic.Int64
	started   atomic.Bool
	sweeping  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a scheduler. metrics may be nil.
func NewService(repo outbound.OrderRepository, runner CycleRunner, metrics outbound.ExecutionMetrics, config Config, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("cycle runner cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.MaxOrdersPerSweep == 0 {
		config.MaxOrdersPerSweep = defaults.MaxOrdersPerSweep
	}
	if config.OwnersPerBatch == 0 {
		config.OwnersPerBatch = defaults.OwnersPerBatch
	}
	if config.ClaimTimeout == 0 {
		config.ClaimTimeout = defaults.ClaimTimeout
	}
	if config.HealthWindow == 0 {
		config.HealthWindow = defaults.HealthWindow
	}

	return &Service{
		repo:    repo,
		runner:  runner,
		metrics: metrics,
		config:  config,
		clock:   time.Now,
		logger:  logger.With("component", "due-scheduler"),
	}, nil
}

// Start runs a sweep every SweepInterval until Stop is called. It is a
// no-op when SweepInterval is zero.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started.Store(true)
	if s.config.SweepInterval <= 0 {
		s.logger.Info("scheduler started without ticker; waiting for external triggers")
		return nil
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started", "interval", s.config.SweepInterval, "maxConcurrency", s.config.MaxConcurrency)
	return nil
}

// Stop stops the ticker and waits for an in-progress sweep to finish.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(s.ctx, s.clock()); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// IsReady reports whether the scheduler can take traffic. With a ticker it
// waits for the first completed sweep; without one it is ready once started,
// since sweeps only arrive through the trigger.
func (s *Service) IsReady() bool {
	if s.config.SweepInterval <= 0 {
		return s.started.Load() || s.lastSweep.Load() != 0
	}
	return s.lastSweep.Load() != 0
}

// IsHealthy reports whether a sweep succeeded within the health window.
// Before the first sweep the scheduler is considered healthy.
func (s *Service) IsHealthy() bool {
	last := s.lastSweep.Load()
	if last == 0 {
		return true
	}
	return s.clock().Sub(time.Unix(0, last)) <= s.config.HealthWindow
}

// Sweep processes every order due at now. Overlapping sweeps within one
// process are serialised; across processes the claim CAS keeps each order
// exclusive.
//
// A storage failure stops the sweep from starting further orders and is
// returned together with the partial result.
func (s *Service) Sweep(ctx context.Context, now time.Time) (*inbound.SweepResult, error) {
	s.sweeping.Lock()
	defer s.sweeping.Unlock()

	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.Sweep", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	result := &inbound.SweepResult{StartedAt: now, Claimed: []string{}}
	err := s.sweep(ctx, now, result)

	span.SetAttributes(
		attribute.Int("sweep.due", result.Due),
		attribute.Int("sweep.claimed", len(result.Claimed)),
		attribute.Int("sweep.failed", result.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep aborted")
	} else {
		s.lastSweep.Store(s.clock().UnixNano())
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(ctx, result.Due, len(result.Claimed), time.Since(start), err)
	}

	s.logger.Info("sweep finished",
		"due", result.Due,
		"claimed", len(result.Claimed),
		"skipped", result.Skipped,
		"failed", result.Failed,
		"expired", result.Expired,
		"releasedStale", result.ReleasedStale,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (s *Service) sweep(ctx context.Context, now time.Time, result *inbound.SweepResult) error {
	released, err := s.repo.ReleaseStaleClaims(ctx, now.Add(-s.config.ClaimTimeout))
	if err != nil {
		return fmt.Errorf("releasing stale claims: %w", err)
	}
	result.ReleasedStale = released
	if released > 0 {
		s.logger.Warn("released stale claims", "count", released)
	}

	expired, err := s.repo.ExpireOrders(ctx, now)
	if err != nil {
		return fmt.Errorf("expiring orders: %w", err)
	}
	result.Expired = expired

	due, err := s.repo.GetDueOrders(ctx, now, s.config.MaxOrdersPerSweep)
	if err != nil {
		return fmt.Errorf("loading due orders: %w", err)
	}
	result.Due = len(due)
	if len(due) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		errs    []error
		aborted atomic.Bool
	)
	sem := make(chan struct{}, s.config.MaxConcurrency)

	for i, batch := range batchByOwner(due, s.config.OwnersPerBatch) {
		if i > 0 && s.config.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(s.config.InterBatchDelay):
			}
		}

		var wg sync.WaitGroup
		for _, order := range batch {
			if aborted.Load() || ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(order *entity.Order) {
				defer func() {
					<-sem
					wg.Done()
				}()

				outcome, err := s.process(ctx, order, now)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeNotClaimed:
					result.Skipped++
				case outcomeProcessed:
					result.Claimed = append(result.Claimed, order.ID.String())
				case outcomeFailed:
					result.Claimed = append(result.Claimed, order.ID.String())
					result.Failed++
				}
				if err != nil {
					errs = append(errs, err)
					if entity.IsStorageError(err) {
						aborted.Store(true)
					}
				}
			}(order)
		}
		wg.Wait()

		if aborted.Load() {
			break
		}
	}
	return errors.Join(errs...)
}

type outcome int

const (
	outcomeNotClaimed outcome = iota
	outcomeProcessed
	outcomeFailed
)

func (s *Service) process(ctx context.Context, order *entity.Order, now time.Time) (outcome, error) {
	previous := order.Status
	claimed, err := s.repo.ClaimOrder(ctx, order.ID, previous, now)
	if err != nil {
		return outcomeNotClaimed, fmt.Errorf("claiming order %s: %w", order.ID, err)
	}
	if !claimed {
		s.logger.Debug("order already claimed elsewhere", "orderId", order.ID)
		return outcomeNotClaimed, nil
	}

	res, err := s.runner.RunCycle(ctx, order, previous, now)
	if err != nil {
		return outcomeFailed, fmt.Errorf("order %s: %w", order.ID, err)
	}
	if res.Outcome == execution_pipeline.OutcomeAborted || res.Outcome == execution_pipeline.OutcomeError {
		return outcomeFailed, nil
	}
	return outcomeProcessed, nil
}

// batchByOwner groups orders by owner, preserving first-seen order, and
// splits the owners into batches of at most perBatch owners.
func batchByOwner(orders []*entity.Order, perBatch int) [][]*entity.Order {
	byOwner := make(map[string][]*entity.Order)
	var owners []string
	for _, o := range orders {
		key := o.Owner.Hex()
		if _, ok := byOwner[key]; !ok {
			owners = append(owners, key)
		}
		byOwner[key] = append(byOwner[key], o)
	}

	var batches [][]*entity.Order
	for i := 0; i < len(owners); i += perBatch {
		end := min(i+perBatch, len(owners))
		var batch []*entity.Order
		for _, owner := range owners[i:end] {
			batch = append(batch, byOwner[owner]...)
		}
		batches = append(batches, batch)
	}
	return batches
}

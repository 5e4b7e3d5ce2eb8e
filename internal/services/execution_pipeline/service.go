// Package execution_pipeline runs one execution cycle for a claimed order:
// resolve in-flight work, check the credential, the dust policy and the
// balance, pick a quote, build and authorise the batch, submit, record.
package execution_pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/allowlist"
	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/services/balance_verifier"
	"github.com/archon-research/dca/internal/services/credential_validator"
	"github.com/archon-research/dca/internal/services/execution_orchestrator"
	"github.com/archon-research/dca/internal/services/execution_recorder"
	"github.com/archon-research/dca/internal/services/quote_aggregator"
	"github.com/archon-research/dca/internal/services/submission"
)

const tracerName = "github.com/archon-research/dca/internal/services/execution_pipeline"

// Cycle outcomes, also used as metric labels.
const (
	OutcomeConfirmed       = "confirmed"
	OutcomeSkipped         = "skipped"
	OutcomeAborted         = "aborted"
	OutcomeAwaitingPending = "awaiting_pending"
	OutcomeClaimLost       = "claim_lost"
	OutcomeError           = "error"
)

// Config holds configuration for the pipeline.
type Config struct {
	// PendingGracePeriod is how long an unmined submission blocks new ones
	// before it is considered dropped.
	PendingGracePeriod time.Duration
}

func configDefaults() Config {
	return Config{PendingGracePeriod: 30 * time.Minute}
}

// Dependencies groups the collaborators of the pipeline.
type Dependencies struct {
	Repository   outbound.OrderRepository
	Balances     *balance_verifier.Service
	Credentials  *credential_validator.Validator
	Quotes       *quote_aggregator.Service
	Orchestrator *execution_orchestrator.Service
	Submitter    *submission.Service
	Recorder     *execution_recorder.Service
	AllowList    *allowlist.List
	Metrics      outbound.ExecutionMetrics
}

func (d Dependencies) validate() error {
	switch {
	case d.Repository == nil:
		return fmt.Errorf("repository cannot be nil")
	case d.Balances == nil:
		return fmt.Errorf("balance verifier cannot be nil")
	case d.Credentials == nil:
		return fmt.Errorf("credential validator cannot be nil")
	case d.Quotes == nil:
		return fmt.Errorf("quote aggregator cannot be nil")
	case d.Orchestrator == nil:
		return fmt.Errorf("orchestrator cannot be nil")
	case d.Submitter == nil:
		return fmt.Errorf("submitter cannot be nil")
	case d.Recorder == nil:
		return fmt.Errorf("recorder cannot be nil")
	case d.AllowList == nil:
		return fmt.Errorf("allow-list cannot be nil")
	}
	return nil
}

// Service executes cycles.
type Service struct {
	deps   Dependencies
	config Config
	logger *slog.Logger
}

// NewService creates a pipeline.
func NewService(deps Dependencies, config Config, logger *slog.Logger) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.PendingGracePeriod == 0 {
		config.PendingGracePeriod = configDefaults().PendingGracePeriod
	}
	return &Service{
		deps:   deps,
		config: config,
		logger: logger.With("component", "execution-pipeline"),
	}, nil
}

// Result summarises one cycle.
type Result struct {
	Outcome   string
	Execution *entity.Execution
	// Cause is the per-order reason an aborted cycle made no progress.
	Cause error
}

// RunCycle executes one cycle of order, which must already be claimed by
// the caller (status executing in storage). previous is the status the claim
// was taken from and now is the instant passed to ClaimOrder.
//
// Per-order failures are recorded and reported through Result. The returned
// error is non-nil only for storage failures, which must abort the sweep.
func (s *Service) RunCycle(ctx context.Context, order *entity.Order, previous entity.OrderStatus, now time.Time) (*Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.RunCycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("order.id", order.ID.String()),
			attribute.Int("order.cycle", order.ExecutionsCompleted+1),
		),
	)
	defer span.End()

	order.MarkClaimed(now)
	res, err := s.runCycle(ctx, order, previous, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
		if !entity.IsStorageError(err) {
			if errors.Is(err, entity.ErrClaimLost) {
				s.logger.Warn("claim lost while recording cycle", "orderId", order.ID)
				res, err = &Result{Outcome: OutcomeClaimLost}, nil
			} else {
				s.logger.Error("cycle could not be recorded", "orderId", order.ID, "error", err)
				res, err = &Result{Outcome: OutcomeError, Cause: err}, nil
			}
		} else {
			res = &Result{Outcome: OutcomeError, Cause: err}
		}
	}

	span.SetAttributes(attribute.String("cycle.outcome", res.Outcome))
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCycle(ctx, res.Outcome, time.Since(start))
	}
	return res, err
}

func (s *Service) runCycle(ctx context.Context, order *entity.Order, previous entity.OrderStatus, now time.Time) (*Result, error) {
	if res, done, err := s.resolvePending(ctx, order, previous, now); done || err != nil {
		return res, err
	}

	if err := s.deps.Credentials.Validate(order, now); err != nil {
		return s.abort(ctx, order, err, execution_recorder.Attempt{}, now)
	}

	amountIn := order.PerExecutionAmount()
	if amountIn.Sign() == 0 || s.deps.Orchestrator.BelowMinimum(order, amountIn) {
		exec, err := s.deps.Recorder.RecordSkipped(ctx, order, entity.ErrBelowMinimumAmount, now)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeSkipped, Execution: exec}, nil
	}
	attempt := execution_recorder.Attempt{AmountIn: amountIn}

	ok, available, err := s.deps.Balances.Verify(ctx, order, amountIn)
	if err != nil {
		return s.abort(ctx, order, err, attempt, now)
	}
	if !ok {
		cause := fmt.Errorf("%w: have %s, need %s", entity.ErrInsufficientBalance, available, amountIn)
		return s.abort(ctx, order, cause, attempt, now)
	}

	gate := s.deps.AllowList.ForOrder(order.FundingAccount, order.Destination)
	quote, err := s.deps.Quotes.BestQuote(ctx, entity.QuoteRequest{
		SourceAsset: order.SourceAsset,
		TargetAsset: order.TargetAsset,
		AmountIn:    amountIn,
		Account:     order.FundingAccount,
		Recipient:   order.Destination,
	}, gate)
	if err != nil {
		return s.abort(ctx, order, err, attempt, now)
	}
	attempt.QuoteSource = quote.Source
	attempt.AmountOut = quote.AmountOut

	batch, err := s.deps.Orchestrator.BuildSwapBatch(order, quote, gate)
	if err != nil {
		return s.abort(ctx, order, err, attempt, now)
	}
	if err := s.deps.Credentials.AuthorizeBatch(order.Credential, batch); err != nil {
		return s.abort(ctx, order, err, attempt, now)
	}

	out, err := s.deps.Submitter.Submit(ctx, batch, order.Credential)
	attempt.TxReference = out.TxReference
	attempt.Receipt = out.Receipt
	if err != nil {
		return s.abort(ctx, order, err, attempt, now)
	}

	exec, err := s.deps.Recorder.RecordConfirmed(ctx, order, attempt, now)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeConfirmed, Execution: exec}, nil
}

// resolvePending settles submissions left pending by earlier cycles. done is
// true when the cycle outcome was decided here.
func (s *Service) resolvePending(ctx context.Context, order *entity.Order, previous entity.OrderStatus, now time.Time) (*Result, bool, error) {
	pending, err := s.deps.Repository.PendingExecutions(ctx, order.ID)
	if err != nil {
		return nil, false, err
	}
	probe := &entity.Batch{OrderID: order.ID, Account: order.FundingAccount, OutputToken: order.TargetAsset, Recipient: order.Destination}

	for _, p := range pending {
		receipt, found, err := s.deps.Submitter.Lookup(ctx, probe, p.TxReference)
		if err != nil {
			s.logger.Warn("could not look up pending transaction", "orderId", order.ID, "txReference", p.TxReference, "error", err)
		}

		switch {
		case found && receipt.Status == entity.ReceiptSuccess:
			exec, err := s.deps.Recorder.RecordConfirmed(ctx, order, execution_recorder.Attempt{
				QuoteSource: p.QuoteSource,
				AmountIn:    p.AmountIn,
				AmountOut:   p.AmountOut,
				TxReference: p.TxReference,
				Receipt:     receipt,
			}, now)
			if err != nil {
				return nil, true, err
			}
			return &Result{Outcome: OutcomeConfirmed, Execution: exec}, true, nil

		case found && receipt.Status == entity.ReceiptReverted:
			cause := fmt.Errorf("%w: pending transaction %s reverted", entity.ErrChainRevert, p.TxReference)
			exec, err := s.deps.Recorder.AppendResolution(ctx, order, p, cause, now)
			if err != nil {
				return nil, true, err
			}
			if order.IsStalled() {
				s.logger.Warn("order stalled by reverted pending transaction", "orderId", order.ID, "txReference", p.TxReference, "stalled", order.StallReason)
				if err := s.deps.Recorder.Release(ctx, order, previous); err != nil {
					return nil, true, err
				}
				return &Result{Outcome: OutcomeAborted, Execution: exec, Cause: cause}, true, nil
			}

		case now.Sub(p.ExecutedAt) < s.config.PendingGracePeriod:
			s.logger.Info("waiting for in-flight transaction", "orderId", order.ID, "txReference", p.TxReference)
			if err := s.deps.Recorder.Release(ctx, order, previous); err != nil {
				return nil, true, err
			}
			return &Result{Outcome: OutcomeAwaitingPending}, true, nil

		default:
			cause := fmt.Errorf("%w: %s not mined after %s", entity.ErrTransactionDropped, p.TxReference, now.Sub(p.ExecutedAt).Truncate(time.Second))
			if _, err := s.deps.Recorder.AppendResolution(ctx, order, p, cause, now); err != nil {
				return nil, true, err
			}
		}
	}
	return nil, false, nil
}

func (s *Service) abort(ctx context.Context, order *entity.Order, cause error, attempt execution_recorder.Attempt, now time.Time) (*Result, error) {
	if attempt.AmountIn == nil {
		attempt.AmountIn = new(big.Int)
	}
	if entity.IsSecurityAbort(cause) {
		s.logger.Warn("security check rejected cycle", "orderId", order.ID, "error", cause)
	}
	exec, err := s.deps.Recorder.RecordAborted(ctx, order, cause, attempt, now)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeAborted, Execution: exec, Cause: cause}, nil
}

// Package execution_recorder is the single writer of order progress. It
// appends the execution log and moves a claimed order out of executing.
package execution_recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Config holds configuration for the recorder.
type Config struct {
	// MaxConsecutiveReverts stalls an order after this many reverts in a row.
	MaxConsecutiveReverts int
}

func configDefaults() Config {
	return Config{MaxConsecutiveReverts: 3}
}

// Service records cycle outcomes.
type Service struct {
	repo   outbound.OrderRepository
	events outbound.EventSink
	config Config
	logger *slog.Logger
}

// NewService creates a recorder. events may be nil.
func NewService(repo outbound.OrderRepository, events outbound.EventSink, config Config, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxConsecutiveReverts == 0 {
		config.MaxConsecutiveReverts = configDefaults().MaxConsecutiveReverts
	}
	return &Service{
		repo:   repo,
		events: events,
		config: config,
		logger: logger.With("component", "execution-recorder"),
	}, nil
}

// Attempt is what the pipeline observed while trying to execute a cycle.
type Attempt struct {
	QuoteSource string
	AmountIn    *big.Int
	AmountOut   *big.Int
	TxReference string
	Receipt     *entity.Receipt
}

// RecordConfirmed advances order by one cycle for a mined, successful swap.
// order must be the claimed copy (status executing).
func (s *Service) RecordConfirmed(ctx context.Context, order *entity.Order, attempt Attempt, at time.Time) (*entity.Execution, error) {
	exec := entity.NewExecution(order.ID, order.ExecutionsCompleted+1, entity.ExecutionKindSwap, entity.ExecutionConfirmed, at)
	fill(exec, attempt)

	if err := order.AdvanceCycle(exec.AmountIn, at); err != nil {
		return nil, fmt.Errorf("advancing order %s: %w", order.ID, err)
	}
	if err := s.complete(ctx, order, exec); err != nil {
		return nil, err
	}
	s.logger.Info("cycle confirmed",
		"orderId", order.ID,
		"cycle", exec.Cycle,
		"txReference", exec.TxReference,
		"amountIn", exec.AmountIn,
		"amountOut", exec.AmountOut,
		"status", order.Status,
	)
	return exec, nil
}

// RecordSkipped logs a confirmed no-swap cycle for an amount below the dust
// threshold. The cycle counts and nextExecutionAt advances; nothing is spent.
func (s *Service) RecordSkipped(ctx context.Context, order *entity.Order, reason error, at time.Time) (*entity.Execution, error) {
	exec := entity.NewExecution(order.ID, order.ExecutionsCompleted+1, entity.ExecutionKindSkipped, entity.ExecutionConfirmed, at)
	exec.ErrorCode = entity.ErrorCode(reason)

	if err := order.AdvanceCycle(new(big.Int), at); err != nil {
		return nil, fmt.Errorf("advancing order %s: %w", order.ID, err)
	}
	if err := s.complete(ctx, order, exec); err != nil {
		return nil, err
	}
	s.logger.Info("cycle skipped below minimum", "orderId", order.ID, "cycle", exec.Cycle, "status", order.Status)
	return exec, nil
}

// RecordAborted logs a cycle that made no progress and releases the claim.
// nextExecutionAt is never moved, so the next sweep retries.
//
// The resulting status depends on cause: insufficient balance parks the order
// in insufficient_balance, credential failures and repeated reverts stall it,
// anything else returns it to active.
func (s *Service) RecordAborted(ctx context.Context, order *entity.Order, cause error, attempt Attempt, at time.Time) (*entity.Execution, error) {
	status := entity.ExecutionFailed
	if errors.Is(cause, entity.ErrSubmissionTimeout) && attempt.TxReference != "" {
		status = entity.ExecutionPending
	}
	exec := entity.NewExecution(order.ID, order.ExecutionsCompleted+1, entity.ExecutionKindSwap, status, at).WithError(cause)
	fill(exec, attempt)

	order.Status = entity.OrderStatusActive
	order.LastError = exec.ErrorCode
	switch {
	case errors.Is(cause, entity.ErrInsufficientBalance):
		order.Status = entity.OrderStatusInsufficientBalance
	case errors.Is(cause, entity.ErrCredentialExpired):
		order.StallReason = entity.StallCredentialExpired
	case errors.Is(cause, entity.ErrCredentialScope):
		order.StallReason = entity.StallCredentialScope
	case errors.Is(cause, entity.ErrChainRevert):
		order.ConsecutiveReverts++
		if order.ConsecutiveReverts >= s.config.MaxConsecutiveReverts {
			order.StallReason = entity.StallRepeatedChainRevert
		}
	}

	if err := s.complete(ctx, order, exec); err != nil {
		return nil, err
	}

	attrs := []any{
		"orderId", order.ID,
		"cycle", exec.Cycle,
		"code", exec.ErrorCode,
		"status", order.Status,
		"error", cause,
	}
	if order.IsStalled() {
		attrs = append(attrs, "stalled", order.StallReason)
		s.logger.Warn("cycle aborted, order stalled", attrs...)
	} else {
		s.logger.Info("cycle aborted", attrs...)
	}
	return exec, nil
}

// AppendResolution records the terminal outcome of an earlier pending
// execution that did not land. A revert counts toward the stall ceiling on
// the in-memory order; the caller persists it by completing or releasing the
// cycle.
func (s *Service) AppendResolution(ctx context.Context, order *entity.Order, pending *entity.Execution, cause error, at time.Time) (*entity.Execution, error) {
	exec := entity.NewExecution(order.ID, pending.Cycle, pending.Kind, entity.ExecutionFailed, at).WithError(cause)
	exec.TxReference = pending.TxReference
	exec.QuoteSource = pending.QuoteSource
	if pending.AmountIn != nil {
		exec.AmountIn = new(big.Int).Set(pending.AmountIn)
	}
	if errors.Is(cause, entity.ErrChainRevert) {
		order.ConsecutiveReverts++
		if order.ConsecutiveReverts >= s.config.MaxConsecutiveReverts {
			order.StallReason = entity.StallRepeatedChainRevert
			order.LastError = exec.ErrorCode
		}
	}
	if err := s.repo.AppendExecution(context.WithoutCancel(ctx), exec); err != nil {
		return nil, fmt.Errorf("appending resolution for %s: %w", pending.TxReference, err)
	}
	s.logger.Info("pending execution resolved as failed",
		"orderId", order.ID,
		"txReference", pending.TxReference,
		"code", exec.ErrorCode,
		"consecutiveReverts", order.ConsecutiveReverts,
	)
	s.publish(ctx, order, exec)
	return exec, nil
}

// Release returns a claimed order to previous without recording anything.
// It is used when a cycle must wait for an in-flight transaction.
func (s *Service) Release(ctx context.Context, order *entity.Order, previous entity.OrderStatus) error {
	order.Status = previous
	if err := s.repo.CompleteCycle(context.WithoutCancel(ctx), order, nil); err != nil {
		return fmt.Errorf("releasing order %s: %w", order.ID, err)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, order *entity.Order, exec *entity.Execution) error {
	// Writes must land even if the sweep is being cancelled.
	if err := s.repo.CompleteCycle(context.WithoutCancel(ctx), order, exec); err != nil {
		return fmt.Errorf("recording cycle %d of order %s: %w", exec.Cycle, order.ID, err)
	}
	s.publish(ctx, order, exec)
	return nil
}

func (s *Service) publish(ctx context.Context, order *entity.Order, exec *entity.Execution) {
	if s.events == nil {
		return
	}
	event := outbound.ExecutionRecordedEvent{
		OrderID:             order.ID.String(),
		Owner:               order.Owner.Hex(),
		ExecutionID:         exec.ID.String(),
		OrderStatus:         string(order.Status),
		ExecutionStatus:     string(exec.Status),
		ErrorCode:           exec.ErrorCode,
		TxReference:         exec.TxReference,
		AmountIn:            exec.AmountIn.String(),
		AmountOut:           exec.AmountOut.String(),
		ExecutionsCompleted: order.ExecutionsCompleted,
		TotalExecutions:     order.TotalExecutions,
		RecordedAt:          exec.ExecutedAt,
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish execution event", "orderId", order.ID, "error", err)
	}
}

func fill(exec *entity.Execution, a Attempt) {
	exec.QuoteSource = a.QuoteSource
	exec.TxReference = a.TxReference
	if a.AmountIn != nil {
		exec.AmountIn = new(big.Int).Set(a.AmountIn)
	}
	if a.AmountOut != nil {
		exec.AmountOut = new(big.Int).Set(a.AmountOut)
	}
	if a.Receipt != nil {
		exec.GasUsed = a.Receipt.GasUsed
		if a.Receipt.EffectiveGasPrice != nil {
			exec.GasPrice = new(big.Int).Set(a.Receipt.EffectiveGasPrice)
		}
		if a.Receipt.AmountOut != nil && a.Receipt.AmountOut.Sign() > 0 {
			exec.AmountOut = new(big.Int).Set(a.Receipt.AmountOut)
		}
		if a.Receipt.TxReference != "" {
			exec.TxReference = a.Receipt.TxReference
		}
	}
}

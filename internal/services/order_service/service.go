// Package order_service implements the owner-facing order API: creation,
// lookup, cancellation with an optional sweep-out, pause, resume and
// credential rotation.
package order_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/allowlist"
	"github.com/archon-research/dca/internal/pkg/retry"
	"github.com/archon-research/dca/internal/ports/inbound"
	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/services/balance_verifier"
	"github.com/archon-research/dca/internal/services/credential_validator"
	"github.com/archon-research/dca/internal/services/execution_orchestrator"
	"github.com/archon-research/dca/internal/services/submission"
)

var _ inbound.OrderService = (*Service)(nil)

// Config holds configuration for the order service.
type Config struct {
	// ExpiryGrace is added after the last scheduled execution to form expiresAt.
	ExpiryGrace time.Duration

	// MinInterval is the shortest accepted execution interval.
	MinInterval time.Duration
}

func configDefaults() Config {
	return Config{
		ExpiryGrace: 24 * time.Hour,
		MinInterval: time.Minute,
	}
}

// Dependencies groups the collaborators of the order service. Balances,
// Orchestrator and Submitter are only needed for cancellation sweeps; Events
// is optional.
type Dependencies struct {
	Repository   outbound.OrderRepository
	AllowList    *allowlist.List
	Credentials  *credential_validator.Validator
	Balances     *balance_verifier.Service
	Orchestrator *execution_orchestrator.Service
	Submitter    *submission.Service
	Events       outbound.EventSink
}

// Service implements inbound.OrderService.
type Service struct {
	deps   Dependencies
	config Config
	clock  func() time.Time
	logger *slog.Logger
}

// NewService creates the order service.
func NewService(deps Dependencies, config Config, logger *slog.Logger) (*Service, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if deps.AllowList == nil {
		return nil, fmt.Errorf("allow-list cannot be nil")
	}
	if deps.Credentials == nil {
		deps.Credentials = credential_validator.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := configDefaults()
	if config.ExpiryGrace == 0 {
		config.ExpiryGrace = defaults.ExpiryGrace
	}
	if config.MinInterval == 0 {
		config.MinInterval = defaults.MinInterval
	}

	return &Service{
		deps:   deps,
		config: config,
		clock:  time.Now,
		logger: logger.With("component", "order-service"),
	}, nil
}

// CreateOrder validates req and stores a new active order.
func (s *Service) CreateOrder(ctx context.Context, req inbound.CreateOrderRequest) (*entity.Order, error) {
	now := s.clock().UTC()

	if req.Interval < s.config.MinInterval {
		return nil, fmt.Errorf("%w: interval must be at least %s", entity.ErrInvalidOrder, s.config.MinInterval)
	}
	executions := req.TotalExecutions
	switch {
	case executions > 0 && req.Duration > 0:
		return nil, fmt.Errorf("%w: set either total executions or duration, not both", entity.ErrInvalidOrder)
	case executions == 0 && req.Duration > 0:
		executions = int(req.Duration / req.Interval)
	}
	if executions <= 0 {
		return nil, fmt.Errorf("%w: order needs at least one execution", entity.ErrInvalidOrder)
	}

	for _, asset := range []common.Address{req.SourceAsset, req.TargetAsset} {
		if !entity.IsNativeAsset(asset) && !s.deps.AllowList.IsToken(asset) {
			return nil, fmt.Errorf("%w: asset %s is not supported", entity.ErrInvalidOrder, asset.Hex())
		}
	}
	if req.TotalAmount == nil || req.TotalAmount.Cmp(big.NewInt(int64(executions))) < 0 {
		return nil, fmt.Errorf("%w: total amount too small for %d executions", entity.ErrInvalidOrder, executions)
	}

	start := req.StartAt.UTC()
	if req.StartAt.IsZero() || start.Before(now) {
		start = now
	}
	destination := req.Destination
	if destination == (common.Address{}) {
		destination = req.FundingAccount
	}
	venue := req.Venue
	if venue == "" {
		venue = entity.VenueDirect
	}
	if venue == entity.VenueOrderBook && req.ExternalUID == "" {
		return nil, fmt.Errorf("%w: order book orders need an external uid", entity.ErrInvalidOrder)
	}

	order := &entity.Order{
		ID:              uuid.New(),
		Owner:           req.Owner,
		FundingAccount:  req.FundingAccount,
		SourceAsset:     req.SourceAsset,
		TargetAsset:     req.TargetAsset,
		Destination:     destination,
		TotalAmount:     new(big.Int).Set(req.TotalAmount),
		ExecutedAmount:  new(big.Int),
		TotalExecutions: executions,
		Interval:        req.Interval,
		NextExecutionAt: start,
		ExpiresAt:       start.Add(req.Interval*time.Duration(executions) + s.config.ExpiryGrace),
		Status:          entity.OrderStatusActive,
		Venue:           venue,
		ExternalUID:     req.ExternalUID,
		Credential:      req.Credential,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if venue == entity.VenueDirect {
		if err := order.Credential.ValidAt(start); err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrInvalidOrder, err)
		}
	}

	if err := s.deps.Repository.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	s.logger.Info("order created",
		"orderId", order.ID,
		"owner", order.Owner.Hex(),
		"totalAmount", order.TotalAmount,
		"executions", order.TotalExecutions,
		"interval", order.Interval,
		"venue", order.Venue,
	)
	return order, nil
}

// GetOrder returns an order by id.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	return s.deps.Repository.GetOrder(ctx, id)
}

// ListOrders returns an owner's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, owner common.Address) ([]*entity.Order, error) {
	return s.deps.Repository.ListOrdersByOwner(ctx, owner)
}

// ListExecutions returns the execution log of an order.
func (s *Service) ListExecutions(ctx context.Context, id uuid.UUID) ([]*entity.Execution, error) {
	if _, err := s.deps.Repository.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.Repository.ListExecutions(ctx, id)
}

// CancelOrder moves an active or insufficient_balance order to cancelled.
// Cancelling an already cancelled order is a no-op. With sweepRemainingFunds
// the unspent part of the order's source asset is transferred back to the
// owner through a swap-less batch.
func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID, owner common.Address, sweepRemainingFunds bool) (*inbound.CancelResult, error) {
	order, err := s.owned(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if order.Status == entity.OrderStatusCancelled {
		return &inbound.CancelResult{Order: order}, nil
	}

	previous, ok, err := s.deps.Repository.TransitionStatus(ctx, id,
		[]entity.OrderStatus{entity.OrderStatusActive, entity.OrderStatusInsufficientBalance},
		entity.OrderStatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("cancelling order: %w", err)
	}
	if !ok {
		if previous == entity.OrderStatusExecuting {
			return nil, fmt.Errorf("%w: order %s is executing a cycle, retry shortly", entity.ErrIllegalTransition, id)
		}
		return nil, fmt.Errorf("%w: order %s is %s", entity.ErrIllegalTransition, id, previous)
	}
	order.Status = entity.OrderStatusCancelled

	result := &inbound.CancelResult{Order: order}
	if sweepRemainingFunds && order.Venue == entity.VenueDirect {
		txRef, err := s.sweep(ctx, order)
		if err != nil {
			s.logger.Warn("sweep after cancel failed", "orderId", id, "error", err)
			result.SweepError = err.Error()
		}
		result.SweepTxRef = txRef
	}

	s.logger.Info("order cancelled", "orderId", id, "previousStatus", previous, "sweepTxRef", result.SweepTxRef)
	if s.deps.Events != nil {
		event := outbound.OrderCancelledEvent{
			OrderID:        id.String(),
			Owner:          order.Owner.Hex(),
			PreviousStatus: string(previous),
			SweepTxRef:     result.SweepTxRef,
			CancelledAt:    s.clock().UTC(),
		}
		if err := s.deps.Events.Publish(context.WithoutCancel(ctx), event); err != nil {
			s.logger.Warn("failed to publish cancel event", "orderId", id, "error", err)
		}
	}
	return result, nil
}

// sweep transfers min(balance, remaining) back to the owner and logs it.
func (s *Service) sweep(ctx context.Context, order *entity.Order) (string, error) {
	if s.deps.Balances == nil || s.deps.Orchestrator == nil || s.deps.Submitter == nil {
		return "", fmt.Errorf("sweeping is not configured")
	}
	now := s.clock()
	if err := s.deps.Credentials.Validate(order, now); err != nil {
		return "", err
	}

	available, err := s.deps.Balances.Available(ctx, order)
	if err != nil {
		return "", err
	}
	amount := execution_orchestrator.SweepAmount(order, available)
	if amount.Sign() <= 0 {
		return "", nil
	}

	gate := s.deps.AllowList.ForOrder(order.FundingAccount, order.Destination, order.Owner)
	batch, err := s.deps.Orchestrator.BuildSweepBatch(order, amount, order.Owner, gate)
	if err != nil {
		return "", err
	}
	if err := s.deps.Credentials.AuthorizeBatch(order.Credential, batch); err != nil {
		return "", err
	}

	out, submitErr := s.deps.Submitter.Submit(ctx, batch, order.Credential)

	status := entity.ExecutionConfirmed
	switch {
	case submitErr == nil:
	case errors.Is(submitErr, entity.ErrSubmissionTimeout) && out.TxReference != "":
		status = entity.ExecutionPending
	default:
		status = entity.ExecutionFailed
	}
	exec := entity.NewExecution(order.ID, order.ExecutionsCompleted, entity.ExecutionKindSweep, status, now).WithError(submitErr)
	exec.TxReference = out.TxReference
	exec.AmountIn = new(big.Int).Set(amount)
	if out.Receipt != nil {
		exec.GasUsed = out.Receipt.GasUsed
		if out.Receipt.EffectiveGasPrice != nil {
			exec.GasPrice = out.Receipt.EffectiveGasPrice
		}
	}
	if err := s.deps.Repository.AppendExecution(context.WithoutCancel(ctx), exec); err != nil {
		return out.TxReference, errors.Join(submitErr, fmt.Errorf("recording sweep: %w", err))
	}
	return out.TxReference, submitErr
}

// PauseOrder stalls an order until the owner resumes it.
func (s *Service) PauseOrder(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error) {
	order, err := s.control(ctx, id, owner, "pausing order", func(order *entity.Order) (bool, error) {
		if order.StallReason == entity.StallPausedByOwner {
			return false, nil
		}
		if order.IsStalled() {
			return false, fmt.Errorf("%w: order %s is already stalled (%s)", entity.ErrIllegalTransition, id, order.StallReason)
		}
		order.StallReason = entity.StallPausedByOwner
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order paused", "orderId", id)
	return order, nil
}

// ResumeOrder clears a pause or a repeated-revert stall. Orders stalled on
// their credential need ReauthorizeOrder instead.
func (s *Service) ResumeOrder(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error) {
	order, err := s.control(ctx, id, owner, "resuming order", func(order *entity.Order) (bool, error) {
		if order.NeedsReauthorization() {
			return false, fmt.Errorf("%w: order %s needs a new credential", entity.ErrCredentialExpired, id)
		}
		if !order.IsStalled() {
			return false, nil
		}
		order.StallReason = entity.StallNone
		order.ConsecutiveReverts = 0
		order.LastError = ""
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order resumed", "orderId", id)
	return order, nil
}

// ReauthorizeOrder replaces the order's credential and clears a credential stall.
func (s *Service) ReauthorizeOrder(ctx context.Context, id uuid.UUID, owner common.Address, credential entity.Credential) (*entity.Order, error) {
	if err := credential.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidOrder, err)
	}
	if !credential.ValidUntil.After(s.clock()) {
		return nil, fmt.Errorf("%w: new credential is already expired", entity.ErrCredentialExpired)
	}

	order, err := s.control(ctx, id, owner, "updating credential", func(order *entity.Order) (bool, error) {
		if credential.BoundAccount != order.FundingAccount {
			return false, fmt.Errorf("%w: credential must be bound to %s", entity.ErrCredentialScope, order.FundingAccount.Hex())
		}
		order.Credential = credential
		if order.NeedsReauthorization() {
			order.StallReason = entity.StallNone
			order.LastError = ""
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order credential replaced", "orderId", id, "keyId", credential.KeyID, "validUntil", credential.ValidUntil)
	return order, nil
}

// control applies mutate to a fresh copy of the order and writes it back
// with UpdateControl. The read is repeated when the order changed in between.
// mutate returns false when there is nothing to write.
func (s *Service) control(ctx context.Context, id uuid.UUID, owner common.Address, op string, mutate func(*entity.Order) (bool, error)) (*entity.Order, error) {
	conflict := func(err error) bool { return errors.Is(err, entity.ErrConcurrentUpdate) }
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Debug("order changed during update, retrying", "orderId", id, "attempt", attempt, "backoff", backoff)
	}
	return retry.Do(ctx, retry.DefaultConfig(), conflict, onRetry, func() (*entity.Order, error) {
		order, err := s.owned(ctx, id, owner)
		if err != nil {
			return nil, err
		}
		changed, err := mutate(order)
		if err != nil || !changed {
			return order, err
		}
		if err := s.deps.Repository.UpdateControl(ctx, order); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return order, nil
	})
}

func (s *Service) owned(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error) {
	order, err := s.deps.Repository.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Owner != owner {
		return nil, entity.ErrNotOwner
	}
	return order, nil
}

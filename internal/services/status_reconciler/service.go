// Package status_reconciler mirrors the state of orders whose lifecycle is
// owned by an external order book. It never invents progress: it only copies
// forward what the remote system reports.
package status_reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// remoteStatuses maps order book status codes onto local statuses.
var remoteStatuses = map[string]entity.OrderStatus{
	"open":                entity.OrderStatusActive,
	"presignaturePending": entity.OrderStatusActive,
	"fulfilled":           entity.OrderStatusCompleted,
	"cancelled":           entity.OrderStatusCancelled,
	"expired":             entity.OrderStatusExpired,
}

// MapRemoteStatus returns the local status for an order book status code.
func MapRemoteStatus(remote string) (entity.OrderStatus, bool) {
	s, ok := remoteStatuses[remote]
	return s, ok
}

// Config holds configuration for the reconciler.
type Config struct {
	PollInterval    time.Duration
	OwnersPerBatch  int
	InterBatchDelay time.Duration
}

// ConfigDefaults returns the default reconciler configuration.
func ConfigDefaults() Config {
	return Config{
		PollInterval:    5 * time.Minute,
		OwnersPerBatch:  10,
		InterBatchDelay: 500 * time.Millisecond,
	}
}

// Report summarises one reconciliation pass.
type Report struct {
	Tracked int
	Updated int
	Expired int
	Failed  int
}

// Service reconciles tracked orders.
type Service struct {
	repo   outbound.OrderRepository
	client outbound.OrderBookClient
	config Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a reconciler.
func NewService(repo outbound.OrderRepository, client outbound.OrderBookClient, config Config, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("order book client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.OwnersPerBatch == 0 {
		config.OwnersPerBatch = defaults.OwnersPerBatch
	}

	return &Service{
		repo:   repo,
		client: client,
		config: config,
		logger: logger.With("component", "status-reconciler"),
	}, nil
}

// Start reconciles immediately and then every PollInterval.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("status reconciler started", "pollInterval", s.config.PollInterval)
	return nil
}

// Stop stops the reconciler.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("status reconciler stopped")
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	if _, err := s.RunOnce(s.ctx); err != nil {
		s.logger.Warn("initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(s.ctx); err != nil {
				s.logger.Warn("reconciliation failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single pass over all tracked orders. Owners whose remote
// lookup fails are skipped and retried next pass.
func (s *Service) RunOnce(ctx context.Context) (*Report, error) {
	tracked, err := s.repo.ListTrackedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tracked orders: %w", err)
	}
	report := &Report{Tracked: len(tracked)}

	byOwner := make(map[common.Address][]*entity.Order)
	var owners []common.Address
	for _, o := range tracked {
		if _, ok := byOwner[o.Owner]; !ok {
			owners = append(owners, o.Owner)
		}
		byOwner[o.Owner] = append(byOwner[o.Owner], o)
	}

	var errs []error
	for i, owner := range owners {
		if i > 0 && i%s.config.OwnersPerBatch == 0 && s.config.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.config.InterBatchDelay):
			}
		}

		if err := s.reconcileOwner(ctx, owner, byOwner[owner], report); err != nil {
			if entity.IsStorageError(err) {
				return report, err
			}
			s.logger.Warn("reconciling owner failed", "owner", owner.Hex(), "error", err)
			report.Failed++
			errs = append(errs, err)
		}
	}

	s.logger.Info("reconciliation finished",
		"tracked", report.Tracked,
		"updated", report.Updated,
		"expired", report.Expired,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}

func (s *Service) reconcileOwner(ctx context.Context, owner common.Address, local []*entity.Order, report *Report) error {
	remote, err := s.client.OrdersByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("fetching remote orders: %w", err)
	}
	byUID := make(map[string]outbound.RemoteOrder, len(remote))
	for _, r := range remote {
		byUID[r.UID] = r
	}

	for _, order := range local {
		r, found := byUID[order.ExternalUID]
		changed, err := s.apply(order, r, found)
		if err != nil {
			s.logger.Warn("skipping order", "orderId", order.ID, "uid", order.ExternalUID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if err := s.repo.MirrorRemoteState(ctx, order); err != nil {
			if entity.IsStorageError(err) {
				return err
			}
			s.logger.Warn("mirroring remote state failed", "orderId", order.ID, "error", err)
			continue
		}
		report.Updated++
		if order.Status == entity.OrderStatusExpired {
			report.Expired++
		}
		s.logger.Info("order mirrored from order book",
			"orderId", order.ID,
			"status", order.Status,
			"executionsCompleted", order.ExecutionsCompleted,
			"executedAmount", order.ExecutedAmount,
		)
	}
	return nil
}

// apply folds the remote view into order and reports whether anything changed.
// Progress only moves forward and never reaches the total unless the remote
// order is fulfilled.
func (s *Service) apply(order *entity.Order, r outbound.RemoteOrder, found bool) (bool, error) {
	if !found {
		if !entity.CanTransition(order.Status, entity.OrderStatusExpired) {
			return false, fmt.Errorf("cannot expire order in status %s", order.Status)
		}
		order.Status = entity.OrderStatusExpired
		return true, nil
	}

	status, ok := MapRemoteStatus(r.Status)
	if !ok {
		return false, fmt.Errorf("unknown remote status %q", r.Status)
	}

	executed := new(big.Int).Set(order.ExecutedAmount)
	if r.ExecutedSellAmount != nil && r.ExecutedSellAmount.Cmp(executed) > 0 {
		executed.Set(r.ExecutedSellAmount)
	}
	if executed.Cmp(order.TotalAmount) > 0 {
		executed.Set(order.TotalAmount)
	}

	completed := max(order.ExecutionsCompleted, r.ExecutionsCompleted, partsFilled(order, executed))
	if status == entity.OrderStatusCompleted {
		completed = order.TotalExecutions
	} else {
		completed = min(completed, order.TotalExecutions-1)
	}

	changed := status != order.Status ||
		executed.Cmp(order.ExecutedAmount) != 0 ||
		completed != order.ExecutionsCompleted
	if !changed {
		return false, nil
	}
	if status != order.Status && !entity.CanTransition(order.Status, status) {
		return false, fmt.Errorf("illegal transition %s -> %s", order.Status, status)
	}

	order.Status = status
	order.ExecutedAmount = executed
	order.ExecutionsCompleted = completed
	return true, nil
}

// partsFilled is the number of whole cycles covered by executed.
func partsFilled(order *entity.Order, executed *big.Int) int {
	if order.TotalAmount.Sign() <= 0 {
		return 0
	}
	parts := new(big.Int).Mul(executed, big.NewInt(int64(order.TotalExecutions)))
	return int(parts.Quo(parts, order.TotalAmount).Int64())
}

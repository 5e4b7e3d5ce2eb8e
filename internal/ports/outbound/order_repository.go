// Package outbound contains the secondary/outbound ports.
// These interfaces describe what the engine needs from storage, chains,
// liquidity sources and messaging infrastructure.
package outbound

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
)

// OrderRepository persists orders and their append-only execution log.
//
// Implementations must make ClaimOrder, CompleteCycle and TransitionStatus
// atomic compare-and-swap operations: concurrent callers (including other
// processes) racing on the same order must observe at most one winner.
type OrderRepository interface {
	// CreateOrder inserts a new order.
	CreateOrder(ctx context.Context, order *entity.Order) error

	// GetOrder returns the order or entity.ErrOrderNotFound.
	GetOrder(ctx context.Context, id uuid.UUID) (*entity.Order, error)

	// ListOrdersByOwner returns the owner's orders, newest first.
	ListOrdersByOwner(ctx context.Context, owner common.Address) ([]*entity.Order, error)

	// GetDueOrders returns at most limit direct orders that are schedulable at now:
	// status active or insufficient_balance, not stalled, nextExecutionAt <= now,
	// expiresAt > now and executionsCompleted < totalExecutions.
	// Ordered by nextExecutionAt ascending.
	GetDueOrders(ctx context.Context, now time.Time, limit int) ([]*entity.Order, error)

	// ClaimOrder transitions the order from expected to executing if, and only if,
	// it is still in expected and still due at now. It returns false when another
	// caller won the claim or the cycle was already completed.
	ClaimOrder(ctx context.Context, id uuid.UUID, expected entity.OrderStatus, now time.Time) (bool, error)

	// CompleteCycle releases a claimed order. In a single transaction it appends
	// execution (when non-nil) and writes order's progress, status, stall and
	// error fields, provided the stored order is still executing under the
	// claim order.ClaimedAt identifies. Returns entity.ErrClaimLost otherwise.
	CompleteCycle(ctx context.Context, order *entity.Order, execution *entity.Execution) error

	// AppendExecution appends an execution outside of a cycle, such as a cancel sweep-out.
	AppendExecution(ctx context.Context, execution *entity.Execution) error

	// ListExecutions returns the execution log of an order in insertion order.
	ListExecutions(ctx context.Context, orderID uuid.UUID) ([]*entity.Execution, error)

	// PendingExecutions returns pending executions whose transaction reference
	// has no later terminal execution.
	PendingExecutions(ctx context.Context, orderID uuid.UUID) ([]*entity.Execution, error)

	// ReleaseStaleClaims moves executing orders claimed before cutoff back to active.
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int, error)

	// ExpireOrders moves schedulable orders with expiresAt <= now to expired.
	ExpireOrders(ctx context.Context, now time.Time) (int, error)

	// TransitionStatus moves the order to `to` if its current status is one of from.
	// Returns the status observed before the transition and whether it happened.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []entity.OrderStatus, to entity.OrderStatus) (entity.OrderStatus, bool, error)

	// UpdateControl writes the owner-controlled fields of a non-executing order:
	// credential, stall reason and consecutive revert count. order.UpdatedAt
	// must be the value read; if the stored order changed since, nothing is
	// written and entity.ErrConcurrentUpdate is returned. On success
	// order.UpdatedAt holds the new value.
	UpdateControl(ctx context.Context, order *entity.Order) error

	// ListTrackedOrders returns all open orderbook-venue orders.
	ListTrackedOrders(ctx context.Context) ([]*entity.Order, error)

	// MirrorRemoteState writes status and progress reported by an external order book.
	MirrorRemoteState(ctx context.Context, order *entity.Order) error
}

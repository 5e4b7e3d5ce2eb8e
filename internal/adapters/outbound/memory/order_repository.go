// order_repository.go provides an in-memory implementation of OrderRepository.
//
// It is used by unit tests and by the scheduler's local development mode.
// Every method takes a single mutex, so claims and cycle completions are
// trivially atomic within one process.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

var _ outbound.OrderRepository = (*OrderRepository)(nil)

// OrderRepository is an in-memory implementation of outbound.OrderRepository.
type OrderRepository struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*entity.Order
	executions map[uuid.UUID][]*entity.Execution
	byOwner    map[common.Address][]uuid.UUID

	// failWith, when set, is returned from every call. Used to simulate outages.
	failWith error
}

// NewOrderRepository creates an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:     make(map[uuid.UUID]*entity.Order),
		executions: make(map[uuid.UUID][]*entity.Execution),
		byOwner:    make(map[common.Address][]uuid.UUID),
	}
}

// FailWith makes every subsequent call return err wrapped as a storage error.
// Pass nil to restore normal behaviour.
func (r *OrderRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

func (r *OrderRepository) fail(op string) error {
	return entity.NewStorageError(op, r.failWith)
}

func (r *OrderRepository) CreateOrder(_ context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("create order"); err != nil {
		return err
	}
	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	r.orders[order.ID] = order.Clone()
	r.byOwner[order.Owner] = append(r.byOwner[order.Owner], order.ID)
	return nil
}

func (r *OrderRepository) GetOrder(_ context.Context, id uuid.UUID) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("get order"); err != nil {
		return nil, err
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) ListOrdersByOwner(_ context.Context, owner common.Address) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("list orders"); err != nil {
		return nil, err
	}
	ids := r.byOwner[owner]
	out := make([]*entity.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, r.orders[ids[i]].Clone())
	}
	return out, nil
}

func (r *OrderRepository) GetDueOrders(_ context.Context, now time.Time, limit int) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("get due orders"); err != nil {
		return nil, err
	}
	var due []*entity.Order
	for _, o := range r.orders {
		if o.IsDue(now) {
			due = append(due, o.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextExecutionAt.Before(due[j].NextExecutionAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *OrderRepository) ClaimOrder(_ context.Context, id uuid.UUID, expected entity.OrderStatus, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("claim order"); err != nil {
		return false, err
	}
	o, ok := r.orders[id]
	if !ok {
		return false, entity.ErrOrderNotFound
	}
	// Still being due rules out claiming a stale copy whose cycle another
	// worker has already completed.
	if o.Status != expected || !o.IsDue(now) || !entity.CanTransition(expected, entity.OrderStatusExecuting) {
		return false, nil
	}
	claimed := now
	o.Status = entity.OrderStatusExecuting
	o.ClaimedAt = &claimed
	o.UpdatedAt = now
	return true, nil
}

func (r *OrderRepository) CompleteCycle(_ context.Context, order *entity.Order, execution *entity.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("complete cycle"); err != nil {
		return err
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return entity.ErrOrderNotFound
	}
	if stored.Status != entity.OrderStatusExecuting || !order.HoldsClaim(stored.ClaimedAt) {
		return entity.ErrClaimLost
	}
	if err := entity.ValidateTransition(entity.OrderStatusExecuting, order.Status); err != nil {
		return err
	}
	if execution != nil {
		r.appendLocked(execution)
	}

	stored.Status = order.Status
	stored.ExecutedAmount = new(big.Int).Set(order.ExecutedAmount)
	stored.ExecutionsCompleted = order.ExecutionsCompleted
	stored.NextExecutionAt = order.NextExecutionAt
	stored.LastExecutedAt = order.Clone().LastExecutedAt
	stored.StallReason = order.StallReason
	stored.ConsecutiveReverts = order.ConsecutiveReverts
	stored.LastError = order.LastError
	stored.ClaimedAt = nil
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *OrderRepository) AppendExecution(_ context.Context, execution *entity.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("append execution"); err != nil {
		return err
	}
	if _, ok := r.orders[execution.OrderID]; !ok {
		return entity.ErrOrderNotFound
	}
	r.appendLocked(execution)
	return nil
}

func (r *OrderRepository) appendLocked(execution *entity.Execution) {
	cp := *execution
	r.executions[execution.OrderID] = append(r.executions[execution.OrderID], &cp)
}

func (r *OrderRepository) ListExecutions(_ context.Context, orderID uuid.UUID) ([]*entity.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("list executions"); err != nil {
		return nil, err
	}
	src := r.executions[orderID]
	out := make([]*entity.Execution, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *OrderRepository) PendingExecutions(_ context.Context, orderID uuid.UUID) ([]*entity.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("pending executions"); err != nil {
		return nil, err
	}
	return pendingOf(r.executions[orderID]), nil
}

// pendingOf returns pending executions not followed by a terminal row for the same tx reference.
func pendingOf(log []*entity.Execution) []*entity.Execution {
	var out []*entity.Execution
	for i, e := range log {
		if e.Status != entity.ExecutionPending || e.TxReference == "" {
			continue
		}
		resolved := false
		for _, later := range log[i+1:] {
			if later.TxReference == e.TxReference && later.IsTerminal() {
				resolved = true
				break
			}
		}
		if !resolved {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (r *OrderRepository) ReleaseStaleClaims(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("release stale claims"); err != nil {
		return 0, err
	}
	released := 0
	for _, o := range r.orders {
		if o.Status == entity.OrderStatusExecuting && o.ClaimedAt != nil && o.ClaimedAt.Before(cutoff) {
			o.Status = entity.OrderStatusActive
			o.ClaimedAt = nil
			o.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

func (r *OrderRepository) ExpireOrders(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("expire orders"); err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range r.orders {
		if o.Venue == entity.VenueDirect && o.Status.IsSchedulable() && !o.ExpiresAt.After(now) {
			o.Status = entity.OrderStatusExpired
			o.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

func (r *OrderRepository) TransitionStatus(_ context.Context, id uuid.UUID, from []entity.OrderStatus, to entity.OrderStatus) (entity.OrderStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("transition status"); err != nil {
		return "", false, err
	}
	o, ok := r.orders[id]
	if !ok {
		return "", false, entity.ErrOrderNotFound
	}
	previous := o.Status
	for _, f := range from {
		if previous == f && entity.CanTransition(previous, to) {
			o.Status = to
			o.UpdatedAt = time.Now()
			return previous, true, nil
		}
	}
	return previous, false, nil
}

func (r *OrderRepository) UpdateControl(_ context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("update control"); err != nil {
		return err
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return entity.ErrOrderNotFound
	}
	if stored.Status == entity.OrderStatusExecuting || stored.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", entity.ErrIllegalTransition, order.ID, stored.Status)
	}
	if !stored.UpdatedAt.Equal(order.UpdatedAt) {
		return fmt.Errorf("%w: order %s", entity.ErrConcurrentUpdate, order.ID)
	}
	c := order.Clone()
	stored.Credential = c.Credential
	stored.StallReason = c.StallReason
	stored.ConsecutiveReverts = c.ConsecutiveReverts
	stored.LastError = c.LastError
	stored.UpdatedAt = after(stored.UpdatedAt)
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

// after returns the current time, or the instant just past prev if the clock
// has not moved beyond it.
func after(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

func (r *OrderRepository) ListTrackedOrders(_ context.Context) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("list tracked orders"); err != nil {
		return nil, err
	}
	var out []*entity.Order
	for _, o := range r.orders {
		if o.Venue == entity.VenueOrderBook && !o.Status.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) MirrorRemoteState(_ context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("mirror remote state"); err != nil {
		return err
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return entity.ErrOrderNotFound
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", entity.ErrIllegalTransition, order.ID, stored.Status)
	}
	if order.Status != stored.Status {
		if err := entity.ValidateTransition(stored.Status, order.Status); err != nil {
			return err
		}
	}
	stored.Status = order.Status
	stored.ExecutedAmount = new(big.Int).Set(order.ExecutedAmount)
	stored.ExecutionsCompleted = order.ExecutionsCompleted
	stored.UpdatedAt = time.Now()
	return nil
}

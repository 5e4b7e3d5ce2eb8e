// order_repository.go provides a PostgreSQL implementation of OrderRepository.
//
// Claims, cycle completions and owner transitions are single conditional
// UPDATEs or row-locked transactions, so competing scheduler processes
// observe at most one winner per order. The executions table rejects
// UPDATE and DELETE through a trigger; this adapter only ever inserts rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that OrderRepository implements outbound.OrderRepository
var _ outbound.OrderRepository = (*OrderRepository)(nil)

const orderColumns = `
	id, owner_address, funding_account, source_asset, target_asset, destination_address,
	total_amount::text, executed_amount::text, total_executions, executions_completed,
	interval_seconds, next_execution_at, expires_at, status, venue, external_uid,
	credential, stall_reason, consecutive_reverts, last_error,
	created_at, last_executed_at, claimed_at, updated_at`

const executionColumns = `
	id, order_id, cycle, kind, status, tx_reference,
	amount_in::text, amount_out::text, gas_used, gas_price::text,
	quote_source, error_code, error_message, executed_at`

// duePredicate matches orders a sweep may claim. It is formatted with the
// placeholder that carries the sweep time.
const duePredicate = `
	status IN ('active', 'insufficient_balance')
	AND venue = 'direct'
	AND stall_reason = ''
	AND next_execution_at <= %[1]s
	AND expires_at > %[1]s
	AND executions_completed < total_executions`

// OrderRepository is a PostgreSQL implementation of the outbound.OrderRepository port.
type OrderRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOrderRepository creates a repository on pool.
func NewOrderRepository(pool *pgxpool.Pool, logger *slog.Logger) (*OrderRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRepository{
		pool:   pool,
		logger: logger.With("component", "order-repository"),
	}, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *entity.Order) error {
	credential, err := json.Marshal(order.Credential)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO orders (
			id, owner_address, funding_account, source_asset, target_asset, destination_address,
			total_amount, executed_amount, total_executions, executions_completed,
			interval_seconds, next_execution_at, expires_at, status, venue, external_uid,
			credential, stall_reason, consecutive_reverts, last_error,
			created_at, last_executed_at, claimed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`,
		order.ID, order.Owner.Bytes(), order.FundingAccount.Bytes(), order.SourceAsset.Bytes(),
		order.TargetAsset.Bytes(), order.Destination.Bytes(),
		numeric(order.TotalAmount), numeric(order.ExecutedAmount), order.TotalExecutions, order.ExecutionsCompleted,
		int64(order.Interval/time.Second), order.NextExecutionAt, order.ExpiresAt, string(order.Status),
		string(order.Venue), order.ExternalUID,
		credential, string(order.StallReason), order.ConsecutiveReverts, order.LastError,
		order.CreatedAt, order.LastExecutedAt, order.ClaimedAt, order.UpdatedAt,
	)
	if err != nil {
		return entity.NewStorageError("create order", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrOrderNotFound
	}
	if err != nil {
		return nil, entity.NewStorageError("get order", err)
	}
	return order, nil
}

func (r *OrderRepository) ListOrdersByOwner(ctx context.Context, owner common.Address) ([]*entity.Order, error) {
	return r.queryOrders(ctx, "list orders", `
		SELECT `+orderColumns+` FROM orders
		WHERE owner_address = $1
		ORDER BY created_at DESC, id`, owner.Bytes())
}

func (r *OrderRepository) GetDueOrders(ctx context.Context, now time.Time, limit int) ([]*entity.Order, error) {
	return r.queryOrders(ctx, "get due orders", `
		SELECT `+orderColumns+` FROM orders
		WHERE `+fmt.Sprintf(duePredicate, "$1")+`
		ORDER BY next_execution_at ASC
		LIMIT NULLIF($2::int, 0)`, now, limit)
}

func (r *OrderRepository) ClaimOrder(ctx context.Context, id uuid.UUID, expected entity.OrderStatus, now time.Time) (bool, error) {
	if !entity.CanTransition(expected, entity.OrderStatusExecuting) {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'executing', claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = $2 AND `+fmt.Sprintf(duePredicate, "$3"),
		id, string(expected), now)
	if err != nil {
		return false, entity.NewStorageError("claim order", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetOrder(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *OrderRepository) CompleteCycle(ctx context.Context, order *entity.Order, execution *entity.Execution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return entity.NewStorageError("complete cycle", err)
	}
	defer rollback(ctx, tx, r.logger)

	var (
		status    string
		sameClaim bool
	)
	err = tx.QueryRow(ctx, `
		SELECT status, COALESCE(claimed_at = $2, false)
		FROM orders WHERE id = $1 FOR UPDATE`,
		order.ID, order.ClaimedAt).Scan(&status, &sameClaim)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ErrOrderNotFound
	}
	if err != nil {
		return entity.NewStorageError("complete cycle", err)
	}
	if entity.OrderStatus(status) != entity.OrderStatusExecuting || !sameClaim {
		return entity.ErrClaimLost
	}
	if err := entity.ValidateTransition(entity.OrderStatusExecuting, order.Status); err != nil {
		return err
	}

	if execution != nil {
		if err := insertExecution(ctx, tx, execution); err != nil {
			return entity.NewStorageError("complete cycle", err)
		}
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders SET
			status = $2, executed_amount = $3, executions_completed = $4,
			next_execution_at = $5, last_executed_at = $6, stall_reason = $7,
			consecutive_reverts = $8, last_error = $9, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		order.ID, string(order.Status), numeric(order.ExecutedAmount), order.ExecutionsCompleted,
		order.NextExecutionAt, order.LastExecutedAt, string(order.StallReason),
		order.ConsecutiveReverts, order.LastError)
	if err != nil {
		return entity.NewStorageError("complete cycle", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return entity.NewStorageError("complete cycle", err)
	}
	return nil
}

func (r *OrderRepository) AppendExecution(ctx context.Context, execution *entity.Execution) error {
	err := insertExecution(ctx, r.pool, execution)
	if isForeignKeyViolation(err) {
		return entity.ErrOrderNotFound
	}
	if err != nil {
		return entity.NewStorageError("append execution", err)
	}
	return nil
}

func (r *OrderRepository) ListExecutions(ctx context.Context, orderID uuid.UUID) ([]*entity.Execution, error) {
	return r.queryExecutions(ctx, "list executions", `
		SELECT `+executionColumns+` FROM executions
		WHERE order_id = $1
		ORDER BY seq`, orderID)
}

func (r *OrderRepository) PendingExecutions(ctx context.Context, orderID uuid.UUID) ([]*entity.Execution, error) {
	return r.queryExecutions(ctx, "pending executions", `
		SELECT `+executionColumns+` FROM executions e
		WHERE e.order_id = $1
		  AND e.status = 'pending'
		  AND e.tx_reference <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM executions later
			WHERE later.order_id = e.order_id
			  AND later.tx_reference = e.tx_reference
			  AND later.seq > e.seq
			  AND later.status <> 'pending'
		  )
		ORDER BY e.seq`, orderID)
}

func (r *OrderRepository) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'active', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'executing' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, entity.NewStorageError("release stale claims", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *OrderRepository) ExpireOrders(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'expired', updated_at = $1
		WHERE venue = 'direct'
		  AND status IN ('active', 'insufficient_balance')
		  AND expires_at <= $1`, now)
	if err != nil {
		return 0, entity.NewStorageError("expire orders", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []entity.OrderStatus, to entity.OrderStatus) (entity.OrderStatus, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", false, entity.NewStorageError("transition status", err)
	}
	defer rollback(ctx, tx, r.logger)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, entity.ErrOrderNotFound
	}
	if err != nil {
		return "", false, entity.NewStorageError("transition status", err)
	}
	previous := entity.OrderStatus(current)

	allowed := false
	for _, f := range from {
		if previous == f && entity.CanTransition(previous, to) {
			allowed = true
			break
		}
	}
	if !allowed {
		return previous, false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(to)); err != nil {
		return "", false, entity.NewStorageError("transition status", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, entity.NewStorageError("transition status", err)
	}
	return previous, true, nil
}

func (r *OrderRepository) UpdateControl(ctx context.Context, order *entity.Order) error {
	credential, err := json.Marshal(order.Credential)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	var updatedAt time.Time
	err = r.pool.QueryRow(ctx, `
		UPDATE orders SET
			credential = $2, stall_reason = $3, consecutive_reverts = $4, last_error = $5,
			updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND updated_at = $6
		  AND status NOT IN ('executing', 'completed', 'cancelled', 'expired')
		RETURNING updated_at`,
		order.ID, credential, string(order.StallReason), order.ConsecutiveReverts, order.LastError,
		order.UpdatedAt).Scan(&updatedAt)
	if err == nil {
		order.UpdatedAt = updatedAt
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return entity.NewStorageError("update control", err)
	}
	stored, err := r.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if stored.Status == entity.OrderStatusExecuting || stored.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", entity.ErrIllegalTransition, order.ID, stored.Status)
	}
	return fmt.Errorf("%w: order %s", entity.ErrConcurrentUpdate, order.ID)
}

func (r *OrderRepository) ListTrackedOrders(ctx context.Context) ([]*entity.Order, error) {
	return r.queryOrders(ctx, "list tracked orders", `
		SELECT `+orderColumns+` FROM orders
		WHERE venue = 'orderbook' AND status NOT IN ('completed', 'cancelled', 'expired')
		ORDER BY created_at, id`)
}

func (r *OrderRepository) MirrorRemoteState(ctx context.Context, order *entity.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return entity.NewStorageError("mirror remote state", err)
	}
	defer rollback(ctx, tx, r.logger)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, order.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ErrOrderNotFound
	}
	if err != nil {
		return entity.NewStorageError("mirror remote state", err)
	}
	stored := entity.OrderStatus(current)
	if stored.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", entity.ErrIllegalTransition, order.ID, stored)
	}
	if order.Status != stored {
		if err := entity.ValidateTransition(stored, order.Status); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2, executed_amount = $3, executions_completed = $4, updated_at = NOW()
		WHERE id = $1`,
		order.ID, string(order.Status), numeric(order.ExecutedAmount), order.ExecutionsCompleted)
	if err != nil {
		return entity.NewStorageError("mirror remote state", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return entity.NewStorageError("mirror remote state", err)
	}
	return nil
}

// pgxExecer is satisfied by *pgxpool.Pool and pgx.Tx.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertExecution(ctx context.Context, db pgxExecer, e *entity.Execution) error {
	_, err := db.Exec(ctx, `
		INSERT INTO executions (
			id, order_id, cycle, kind, status, tx_reference,
			amount_in, amount_out, gas_used, gas_price,
			quote_source, error_code, error_message, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.OrderID, e.Cycle, string(e.Kind), string(e.Status), e.TxReference,
		numeric(e.AmountIn), numeric(e.AmountOut), int64(e.GasUsed), numeric(e.GasPrice),
		e.QuoteSource, e.ErrorCode, e.ErrorMessage, e.ExecutedAt)
	return err
}

func (r *OrderRepository) queryOrders(ctx context.Context, op, query string, args ...any) ([]*entity.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, entity.NewStorageError(op, err)
	}
	defer rows.Close()

	var out []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, entity.NewStorageError(op, err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, entity.NewStorageError(op, err)
	}
	return out, nil
}

func (r *OrderRepository) queryExecutions(ctx context.Context, op, query string, args ...any) ([]*entity.Execution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, entity.NewStorageError(op, err)
	}
	defer rows.Close()

	out := []*entity.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, entity.NewStorageError(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, entity.NewStorageError(op, err)
	}
	return out, nil
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	var (
		o                                           entity.Order
		owner, funding, source, target, destination []byte
		total, executed                             string
		intervalSeconds                             int64
		status, venue, stall                        string
		credential                                  []byte
	)
	err := row.Scan(
		&o.ID, &owner, &funding, &source, &target, &destination,
		&total, &executed, &o.TotalExecutions, &o.ExecutionsCompleted,
		&intervalSeconds, &o.NextExecutionAt, &o.ExpiresAt, &status, &venue, &o.ExternalUID,
		&credential, &stall, &o.ConsecutiveReverts, &o.LastError,
		&o.CreatedAt, &o.LastExecutedAt, &o.ClaimedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	addrs := []struct {
		raw []byte
		dst *common.Address
	}{
		{owner, &o.Owner}, {funding, &o.FundingAccount}, {source, &o.SourceAsset},
		{target, &o.TargetAsset}, {destination, &o.Destination},
	}
	for _, a := range addrs {
		if *a.dst, err = addressFromBytes(a.raw); err != nil {
			return nil, err
		}
	}
	if o.TotalAmount, err = parseNumeric(total); err != nil {
		return nil, err
	}
	if o.ExecutedAmount, err = parseNumeric(executed); err != nil {
		return nil, err
	}
	if o.Status, err = entity.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(credential, &o.Credential); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	o.Interval = time.Duration(intervalSeconds) * time.Second
	o.Venue = entity.Venue(venue)
	o.StallReason = entity.StallReason(stall)
	return &o, nil
}

func scanExecution(row rowScanner) (*entity.Execution, error) {
	var (
		e                          entity.Execution
		kind, status               string
		amountIn, amountOut, price string
		gasUsed                    int64
	)
	err := row.Scan(
		&e.ID, &e.OrderID, &e.Cycle, &kind, &status, &e.TxReference,
		&amountIn, &amountOut, &gasUsed, &price,
		&e.QuoteSource, &e.ErrorCode, &e.ErrorMessage, &e.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Status, err = entity.ParseExecutionStatus(status); err != nil {
		return nil, err
	}
	if e.AmountIn, err = parseNumeric(amountIn); err != nil {
		return nil, err
	}
	if e.AmountOut, err = parseNumeric(amountOut); err != nil {
		return nil, err
	}
	if e.GasPrice, err = parseNumeric(price); err != nil {
		return nil, err
	}
	e.Kind = entity.ExecutionKind(kind)
	e.GasUsed = uint64(gasUsed)
	return &e, nil
}

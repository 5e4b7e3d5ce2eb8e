package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the outcome of one attempted cycle.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionConfirmed ExecutionStatus = "confirmed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ParseExecutionStatus converts a persisted string into an ExecutionStatus.
func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	switch ExecutionStatus(s) {
	case ExecutionPending, ExecutionConfirmed, ExecutionFailed:
		return ExecutionStatus(s), nil
	}
	return "", fmt.Errorf("unknown execution status %q", s)
}

// ExecutionKind distinguishes swap cycles from no-swap records.
type ExecutionKind string

const (
	ExecutionKindSwap    ExecutionKind = "swap"
	ExecutionKindSkipped ExecutionKind = "skipped"
	ExecutionKindSweep   ExecutionKind = "sweep"
)

// Execution is an append-only record of one cycle attempt.
type Execution struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Cycle        int
	Kind         ExecutionKind
	Status       ExecutionStatus
	TxReference  string
	AmountIn     *big.Int
	AmountOut    *big.Int
	GasUsed      uint64
	GasPrice     *big.Int
	QuoteSource  string
	ErrorCode    string
	ErrorMessage string
	ExecutedAt   time.Time
}

// NewExecution creates an execution row for cycle number cycle (zero-based
// count of cycles completed before this attempt).
func NewExecution(orderID uuid.UUID, cycle int, kind ExecutionKind, status ExecutionStatus, at time.Time) *Execution {
	return &Execution{
		ID:         uuid.New(),
		OrderID:    orderID,
		Cycle:      cycle,
		Kind:       kind,
		Status:     status,
		AmountIn:   new(big.Int),
		AmountOut:  new(big.Int),
		GasPrice:   new(big.Int),
		ExecutedAt: at,
	}
}

// WithError records err on the execution using its taxonomy code.
func (e *Execution) WithError(err error) *Execution {
	if err != nil {
		e.ErrorCode = ErrorCode(err)
		e.ErrorMessage = err.Error()
	}
	return e
}

// IsTerminal reports whether the execution outcome is final.
func (e *Execution) IsTerminal() bool {
	return e.Status != ExecutionPending
}

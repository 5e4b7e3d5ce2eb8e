package entity

import "fmt"

// OrderStatus is the lifecycle state of a recurring order.
type OrderStatus string

const (
	OrderStatusActive              OrderStatus = "active"
	OrderStatusExecuting           OrderStatus = "executing"
	OrderStatusInsufficientBalance OrderStatus = "insufficient_balance"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusExpired             OrderStatus = "expired"
)

// orderTransitions lists every legal edge of the order state machine.
// executing -> active also covers stale-claim recovery.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusActive: {
		OrderStatusExecuting: true,
		OrderStatusCancelled: true,
		OrderStatusExpired:   true,
		OrderStatusCompleted: true,
	},
	OrderStatusInsufficientBalance: {
		OrderStatusExecuting: true,
		OrderStatusActive:    true,
		OrderStatusCancelled: true,
		OrderStatusExpired:   true,
	},
	OrderStatusExecuting: {
		OrderStatusActive:              true,
		OrderStatusInsufficientBalance: true,
		OrderStatusCompleted:           true,
	},
}

// ParseOrderStatus converts a persisted string into an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

// IsValid returns true if the status is a known value.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusActive, OrderStatusExecuting, OrderStatusInsufficientBalance,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusExpired
}

// IsSchedulable reports whether an order in this status may be claimed by a sweep.
func (s OrderStatus) IsSchedulable() bool {
	return s == OrderStatusActive || s == OrderStatusInsufficientBalance
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	return orderTransitions[from][to]
}

// ValidateTransition returns ErrIllegalTransition when from -> to is not a legal edge.
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

package outbound

import (
	"context"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	EventTypeExecutionRecorded EventType = "execution_recorded"
	EventTypeOrderCancelled    EventType = "order_cancelled"
)

// Event is the interface that all published events implement.
type Event interface {
	EventType() EventType
	// GetOrderID returns the order the event concerns. Used as the message group key.
	GetOrderID() string
}

// ExecutionRecordedEvent is published after every recorded cycle.
type ExecutionRecordedEvent struct {
	OrderID             string    `json:"orderId"`
	Owner               string    `json:"owner"`
	ExecutionID         string    `json:"executionId"`
	OrderStatus         string    `json:"orderStatus"`
	ExecutionStatus     string    `json:"executionStatus"`
	ErrorCode           string    `json:"errorCode,omitempty"`
	TxReference         string    `json:"txReference,omitempty"`
	AmountIn            string    `json:"amountIn"`
	AmountOut           string    `json:"amountOut"`
	ExecutionsCompleted int       `json:"executionsCompleted"`
	TotalExecutions     int       `json:"totalExecutions"`
	RecordedAt          time.Time `json:"recordedAt"`
}

func (e ExecutionRecordedEvent) EventType() EventType { return EventTypeExecutionRecorded }
func (e ExecutionRecordedEvent) GetOrderID() string   { return e.OrderID }

// OrderCancelledEvent is published when an owner cancels an order.
type OrderCancelledEvent struct {
	OrderID        string    `json:"orderId"`
	Owner          string    `json:"owner"`
	PreviousStatus string    `json:"previousStatus"`
	SweepTxRef     string    `json:"sweepTxRef,omitempty"`
	CancelledAt    time.Time `json:"cancelledAt"`
}

func (e OrderCancelledEvent) EventType() EventType { return EventTypeOrderCancelled }
func (e OrderCancelledEvent) GetOrderID() string   { return e.OrderID }

// EventSink publishes events to downstream consumers.
type EventSink interface {
	// Publish sends an event. Delivery is at-least-once.
	Publish(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

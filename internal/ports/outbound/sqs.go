package outbound

import "context"

// Message is a message received from a queue.
type Message struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// SQSConsumer receives and acknowledges queue messages.
type SQSConsumer interface {
	// ReceiveMessages long-polls for up to maxMessages messages.
	ReceiveMessages(ctx context.Context, maxMessages int) ([]Message, error)

	// DeleteMessage acknowledges a processed message.
	DeleteMessage(ctx context.Context, receiptHandle string) error

	// Close releases resources.
	Close() error
}

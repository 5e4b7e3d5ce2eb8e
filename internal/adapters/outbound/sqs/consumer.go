// Package sqs implements the SQSConsumer port used by the sweep trigger.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that Consumer implements outbound.SQSConsumer
var _ outbound.SQSConsumer = (*Consumer)(nil)

// sqsAPI is the subset of the SQS client used by Consumer.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config holds the queue settings.
type Config struct {
	QueueURL string
	// WaitTimeSeconds is the long-poll duration, capped at 20 by SQS.
	WaitTimeSeconds int32
	// VisibilityTimeout hides received messages for this many seconds.
	// Zero keeps the queue's own setting.
	VisibilityTimeout int32
}

// Consumer receives sweep triggers from an SQS queue.
type Consumer struct {
	client sqsAPI
	config Config
	logger *slog.Logger
}

// NewConsumer creates a consumer backed by the AWS SDK client.
func NewConsumer(awsCfg aws.Config, config Config, logger *slog.Logger) (*Consumer, error) {
	return newConsumer(sqs.NewFromConfig(awsCfg), config, logger)
}

func newConsumer(client sqsAPI, config Config, logger *slog.Logger) (*Consumer, error) {
	if config.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if config.WaitTimeSeconds <= 0 || config.WaitTimeSeconds > 20 {
		config.WaitTimeSeconds = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client: client,
		config: config,
		logger: logger.With("component", "sqs-consumer", "queue", config.QueueURL),
	}, nil
}

// ReceiveMessages long-polls for up to maxMessages messages. SQS allows 1 to 10.
func (c *Consumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.Message, error) {
	maxMessages = min(max(maxMessages, 1), 10)

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
	}
	if c.config.VisibilityTimeout > 0 {
		input.VisibilityTimeout = c.config.VisibilityTimeout
	}

	out, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}

	messages := make([]outbound.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, outbound.Message{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	if len(messages) > 0 {
		c.logger.Debug("received messages", "count", len(messages))
	}
	return messages, nil
}

// DeleteMessage acknowledges a message by receipt handle.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *Consumer) Close() error {
	return nil
}

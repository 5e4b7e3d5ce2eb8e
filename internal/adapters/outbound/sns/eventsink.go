// Package sns implements the EventSink port on AWS SNS.
//
// Each event type goes to its own topic. Events are JSON messages carrying
// eventType and orderId message attributes for subscription filtering. On
// FIFO topics (ARN ending in ".fifo") the order id is the message group, so
// consumers see one order's events in publication order.
package sns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/dca/internal/pkg/retry"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// SNSPublisher defines the subset of SNS client methods used by EventSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TopicARNs holds one topic per event type.
type TopicARNs struct {
	Executions    string
	Cancellations string
}

// Config holds configuration for the SNS event sink.
type Config struct {
	Topics TopicARNs

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// EventSink publishes events to AWS SNS.
type EventSink struct {
	client    SNSPublisher
	config    Config
	logger    *slog.Logger
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// NewEventSink creates a new SNS event sink.
func NewEventSink(client SNSPublisher, config Config) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.Topics.Executions == "" {
		return nil, errors.New("executions topic ARN is required")
	}
	if config.Topics.Cancellations == "" {
		return nil, errors.New("cancellations topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &EventSink{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-eventsink"),
	}, nil
}

// Publish publishes an event to its topic.
func (s *EventSink) Publish(ctx context.Context, event outbound.Event) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.New("event sink is closed")
	}

	topicARN := s.topicFor(event.EventType())
	if topicARN == "" {
		return fmt.Errorf("no topic ARN configured for event type: %s", event.EventType())
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(string(event.EventType()))},
			"orderId":   {DataType: aws.String("String"), StringValue: aws.String(event.GetOrderID())},
		},
	}
	if strings.HasSuffix(topicARN, ".fifo") {
		sum := sha256.Sum256(body)
		input.MessageGroupId = aws.String(event.GetOrderID())
		input.MessageDeduplicationId = aws.String(hex.EncodeToString(sum[:]))
	}

	cfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
		Jitter:         true,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", s.config.MaxRetries,
			"backoff", backoff,
			"eventType", event.EventType(),
			"orderId", event.GetOrderID(),
			"error", err)
	}
	err = retry.DoVoid(ctx, cfg, isRetryableError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

func (s *EventSink) topicFor(eventType outbound.EventType) string {
	switch eventType {
	case outbound.EventTypeExecutionRecorded:
		return s.config.Topics.Executions
	case outbound.EventTypeOrderCancelled:
		return s.config.Topics.Cancellations
	default:
		return ""
	}
}

// isRetryableError retries throttling, internal and unknown errors but not
// context cancellation or rejected requests.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return strings.Contains(apiErr.ErrorCode(), "Throttl")
	}
	return true
}

// Close marks the sink as closed and prevents further publishing.
func (s *EventSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.logger.Info("SNS event sink closed")
	})
	return nil
}

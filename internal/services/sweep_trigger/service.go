// Package sweep_trigger runs a sweep for every scheduled trigger message
// received from a queue.
package sweep_trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/archon-research/dca/internal/ports/inbound"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Config holds configuration for the trigger worker.
type Config struct {
	MaxMessages  int
	PollInterval time.Duration
}

func configDefaults() Config {
	return Config{
		MaxMessages:  10,
		PollInterval: time.Second,
	}
}

// Trigger is the queue message body.
type Trigger struct {
	TriggeredAt int64 `json:"triggeredAt"`
}

// Service consumes trigger messages.
type Service struct {
	config   Config
	consumer outbound.SQSConsumer
	sweeper  inbound.Sweeper
	clock    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewService creates a trigger worker.
func NewService(config Config, consumer outbound.SQSConsumer, sweeper inbound.Sweeper, logger *slog.Logger) (*Service, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := configDefaults()
	if config.MaxMessages == 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}

	return &Service{
		config:   config,
		consumer: consumer,
		sweeper:  sweeper,
		clock:    time.Now,
		logger:   logger.With("component", "sweep-trigger"),
	}, nil
}

// Start begins polling the queue.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.processLoop()
	s.logger.Info("sweep trigger started", "pollInterval", s.config.PollInterval)
	return nil
}

// Stop stops polling and waits for an in-progress sweep.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("sweep trigger stopped")
	return nil
}

func (s *Service) processLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessMessages(s.ctx); err != nil {
				s.logger.Error("error processing trigger messages", "error", err)
			}
		}
	}
}

// ProcessMessages receives one batch of triggers and runs a single sweep for
// all of them. Messages are deleted only after the sweep succeeded, so a
// failed sweep is redelivered. Malformed messages are left for the queue's
// redrive policy.
func (s *Service) ProcessMessages(ctx context.Context) error {
	messages, err := s.consumer.ReceiveMessages(ctx, s.config.MaxMessages)
	if err != nil {
		return fmt.Errorf("receiving messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	var (
		errs    []error
		handles []string
		oldest  time.Time
	)
	for _, msg := range messages {
		var trigger Trigger
		if err := json.Unmarshal([]byte(msg.Body), &trigger); err != nil {
			errs = append(errs, fmt.Errorf("parsing trigger %s: %w", msg.MessageID, err))
			continue
		}
		if trigger.TriggeredAt > 0 {
			at := time.Unix(trigger.TriggeredAt, 0)
			if oldest.IsZero() || at.Before(oldest) {
				oldest = at
			}
		}
		handles = append(handles, msg.ReceiptHandle)
	}
	if len(handles) == 0 {
		return errors.Join(errs...)
	}

	now := s.clock()
	if !oldest.IsZero() {
		s.logger.Debug("running triggered sweep", "triggers", len(handles), "lag", now.Sub(oldest))
	}
	if _, err := s.sweeper.Sweep(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
		return errors.Join(errs...)
	}

	for _, handle := range handles {
		if err := s.consumer.DeleteMessage(ctx, handle); err != nil {
			s.logger.Error("failed to delete message", "error", err)
		}
	}
	return errors.Join(errs...)
}

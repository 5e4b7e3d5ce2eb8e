// Package submission signs and broadcasts execution batches and waits for
// their inclusion.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Config holds configuration for the submitter.
type Config struct {
	// ConfirmationTimeout bounds how long a submitted batch is polled.
	ConfirmationTimeout time.Duration

	// PollInterval is the delay between receipt lookups.
	PollInterval time.Duration
}

func configDefaults() Config {
	return Config{
		ConfirmationTimeout: 2 * time.Minute,
		PollInterval:        2 * time.Second,
	}
}

// Service submits batches through a Signer.
type Service struct {
	signer   outbound.Signer
	receipts outbound.ReceiptReader
	locker   outbound.AccountLocker
	config   Config
	logger   *slog.Logger
}

// NewService creates a submitter.
func NewService(signer outbound.Signer, receipts outbound.ReceiptReader, locker outbound.AccountLocker, config Config, logger *slog.Logger) (*Service, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if receipts == nil {
		return nil, fmt.Errorf("receipt reader cannot be nil")
	}
	if locker == nil {
		return nil, fmt.Errorf("account locker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := configDefaults()
	if config.ConfirmationTimeout == 0 {
		config.ConfirmationTimeout = defaults.ConfirmationTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}

	return &Service{
		signer:   signer,
		receipts: receipts,
		locker:   locker,
		config:   config,
		logger:   logger.With("component", "submission"),
	}, nil
}

// Outcome describes a submission. TxReference is set whenever the batch
// reached the signer's broadcast step, even if confirmation failed.
type Outcome struct {
	TxReference string
	Receipt     *entity.Receipt
}

// SignerLockKey is the lock key serialising submissions of one session key.
func SignerLockKey(cred entity.Credential) string {
	return "signer:" + cred.KeyID
}

// Submit signs batch under cred and waits for it to be mined.
//
// It returns entity.ErrSubmissionTimeout when the batch could not be
// broadcast or was not mined in time, and entity.ErrChainRevert when it was
// mined but reverted. In both cases the returned Outcome carries whatever was
// observed.
func (s *Service) Submit(ctx context.Context, batch *entity.Batch, cred entity.Credential) (*Outcome, error) {
	txRef, err := s.broadcast(ctx, batch, cred)
	if err != nil {
		return &Outcome{}, fmt.Errorf("%w: %v", entity.ErrSubmissionTimeout, err)
	}
	out := &Outcome{TxReference: txRef}

	receipt, err := s.WaitForReceipt(ctx, batch, txRef)
	if err != nil {
		return out, err
	}
	out.Receipt = receipt
	if receipt.Status == entity.ReceiptReverted {
		return out, fmt.Errorf("%w: transaction %s reverted in block %d", entity.ErrChainRevert, txRef, receipt.BlockNumber)
	}
	return out, nil
}

func (s *Service) broadcast(ctx context.Context, batch *entity.Batch, cred entity.Credential) (string, error) {
	unlock, err := s.locker.Lock(ctx, SignerLockKey(cred))
	if err != nil {
		return "", fmt.Errorf("acquiring signer lock: %w", err)
	}
	defer unlock()

	txRef, err := s.signer.SignAndSubmit(ctx, batch, cred)
	if err != nil {
		return "", fmt.Errorf("sign and submit: %w", err)
	}
	s.logger.Info("batch submitted", "orderId", batch.OrderID, "txReference", txRef, "calls", len(batch.Calls))
	return txRef, nil
}

// WaitForReceipt polls until txRef is mined or the confirmation timeout
// elapses. A lookup error is treated like "not yet mined".
func (s *Service) WaitForReceipt(ctx context.Context, batch *entity.Batch, txRef string) (*entity.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, found, err := s.receipts.Receipt(ctx, txRef, batch.OutputToken, batch.Recipient)
		switch {
		case err != nil:
			s.logger.Debug("receipt lookup failed", "txReference", txRef, "error", err)
		case found && receipt.Status != entity.ReceiptUnknown:
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s not mined: %v", entity.ErrSubmissionTimeout, txRef, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Lookup checks txRef once without waiting.
func (s *Service) Lookup(ctx context.Context, batch *entity.Batch, txRef string) (*entity.Receipt, bool, error) {
	receipt, found, err := s.receipts.Receipt(ctx, txRef, batch.OutputToken, batch.Recipient)
	if err != nil {
		return nil, false, fmt.Errorf("looking up %s: %w", txRef, err)
	}
	if !found || receipt.Status == entity.ReceiptUnknown {
		return nil, false, nil
	}
	return receipt, true, nil
}

// Package balance_verifier checks that a funding account holds enough of an
// order's source asset for its next cycle.
package balance_verifier

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Service reads balances through an outbound.BalanceReader.
type Service struct {
	reader outbound.BalanceReader
	logger *slog.Logger
}

// NewService creates a balance verifier.
func NewService(reader outbound.BalanceReader, logger *slog.Logger) (*Service, error) {
	if reader == nil {
		return nil, fmt.Errorf("balance reader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reader: reader,
		logger: logger.With("component", "balance-verifier"),
	}, nil
}

// Verify reports whether the funding account holds at least required of the
// order's source asset, together with the balance it observed. It fails closed:
// a read error is returned and must not be treated as sufficient.
func (s *Service) Verify(ctx context.Context, order *entity.Order, required *big.Int) (bool, *big.Int, error) {
	available, err := s.reader.BalanceOf(ctx, order.SourceAsset, order.FundingAccount)
	if err != nil {
		return false, nil, fmt.Errorf("reading balance of %s for %s: %w", order.SourceAsset.Hex(), order.FundingAccount.Hex(), err)
	}
	if available == nil {
		return false, nil, fmt.Errorf("balance reader returned no balance for %s", order.FundingAccount.Hex())
	}

	ok := available.Cmp(required) >= 0
	if !ok {
		s.logger.Info("insufficient balance",
			"orderId", order.ID,
			"account", order.FundingAccount.Hex(),
			"asset", order.SourceAsset.Hex(),
			"required", required,
			"available", available,
		)
	}
	return ok, available, nil
}

// Available returns the funding account's current balance of the source asset.
func (s *Service) Available(ctx context.Context, order *entity.Order) (*big.Int, error) {
	available, err := s.reader.BalanceOf(ctx, order.SourceAsset, order.FundingAccount)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	return available, nil
}

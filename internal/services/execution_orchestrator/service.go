// Package execution_orchestrator turns a selected quote into the ordered,
// all-or-nothing batch of calls executed by the funding account.
package execution_orchestrator

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/abis"
	"github.com/archon-research/dca/internal/pkg/allowlist"
)

// Service builds execution batches.
type Service struct {
	erc20    *abi.ABI
	minimums *allowlist.Minimums
	logger   *slog.Logger
}

// NewService creates an orchestrator. A nil minimums disables the dust policy.
func NewService(minimums *allowlist.Minimums, logger *slog.Logger) (*Service, error) {
	erc20, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		erc20:    erc20,
		minimums: minimums,
		logger:   logger.With("component", "execution-orchestrator"),
	}, nil
}

// BelowMinimum reports whether amountIn is under the dust threshold of the
// order's source asset. A cycle below the minimum builds no batch.
func (s *Service) BelowMinimum(order *entity.Order, amountIn *big.Int) bool {
	minimum := s.minimums.For(order.SourceAsset)
	return amountIn.Cmp(minimum) < 0
}

// BuildSwapBatch returns the approve and swap calls for q.
//
// The approval covers exactly the quoted input. The swap itself delivers the
// output to the order's destination, so everything the swap receives lands
// there in the same atomic batch and nothing is left in the funding account.
// A quote that pays out anywhere else is rejected.
func (s *Service) BuildSwapBatch(order *entity.Order, q *entity.Quote, gate *allowlist.Gate) (*entity.Batch, error) {
	if q == nil {
		return nil, fmt.Errorf("quote cannot be nil")
	}
	if q.SourceAsset != order.SourceAsset || q.TargetAsset != order.TargetAsset {
		return nil, fmt.Errorf("%w: quote pair does not match order %s", entity.ErrSuspiciousQuote, order.ID)
	}
	recipient := q.Recipient
	if recipient == (common.Address{}) {
		recipient = order.FundingAccount
	}
	if recipient != order.Destination {
		return nil, fmt.Errorf("%w: quote delivers to %s, order %s pays out to %s",
			entity.ErrSuspiciousQuote, recipient.Hex(), order.ID, order.Destination.Hex())
	}

	batch := &entity.Batch{
		OrderID:     order.ID,
		Account:     order.FundingAccount,
		OutputToken: order.TargetAsset,
		Recipient:   order.Destination,
	}

	if !entity.IsNativeAsset(order.SourceAsset) {
		data, err := s.erc20.Pack("approve", q.TargetContract, q.AmountIn)
		if err != nil {
			return nil, fmt.Errorf("packing approve: %w", err)
		}
		batch.Calls = append(batch.Calls, entity.Call{
			Kind:   entity.CallApprove,
			Target: order.SourceAsset,
			Value:  new(big.Int),
			Data:   data,
		})
	}

	value := new(big.Int)
	if q.Value != nil {
		value.Set(q.Value)
	}
	batch.Calls = append(batch.Calls, entity.Call{
		Kind:   entity.CallSwap,
		Target: q.TargetContract,
		Value:  value,
		Data:   append([]byte(nil), q.CallData...),
	})

	if err := gate.CheckCalls(batch.Calls); err != nil {
		return nil, err
	}
	s.logger.Debug("built swap batch", "orderId", order.ID, "calls", len(batch.Calls), "source", q.Source, "recipient", recipient.Hex())
	return batch, nil
}

// BuildSweepBatch returns a batch with a single transfer of amount of the
// order's source asset to recipient. It has no swap step.
func (s *Service) BuildSweepBatch(order *entity.Order, amount *big.Int, recipient common.Address, gate *allowlist.Gate) (*entity.Batch, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("sweep amount must be positive")
	}
	call, err := s.transferCall(entity.CallSweep, order.SourceAsset, recipient, amount)
	if err != nil {
		return nil, err
	}
	batch := &entity.Batch{
		OrderID:     order.ID,
		Account:     order.FundingAccount,
		Calls:       []entity.Call{call},
		OutputToken: order.SourceAsset,
		Recipient:   recipient,
	}
	if err := gate.CheckCalls(batch.Calls); err != nil {
		return nil, err
	}
	return batch, nil
}

// SweepAmount is the part of available that still belongs to the order.
func SweepAmount(order *entity.Order, available *big.Int) *big.Int {
	remaining := order.RemainingAmount()
	if available == nil {
		return new(big.Int)
	}
	if available.Cmp(remaining) < 0 {
		return new(big.Int).Set(available)
	}
	return remaining
}

func (s *Service) transferCall(kind entity.CallKind, asset, to common.Address, amount *big.Int) (entity.Call, error) {
	if entity.IsNativeAsset(asset) {
		return entity.Call{Kind: kind, Target: to, Value: new(big.Int).Set(amount)}, nil
	}
	data, err := s.erc20.Pack("transfer", to, amount)
	if err != nil {
		return entity.Call{}, fmt.Errorf("packing transfer: %w", err)
	}
	return entity.Call{Kind: kind, Target: asset, Value: new(big.Int), Data: data}, nil
}

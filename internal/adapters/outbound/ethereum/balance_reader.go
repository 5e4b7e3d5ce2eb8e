// Package ethereum provides on-chain adapters: balance reads through
// Multicall3 and receipt lookups that measure delivered output from logs.
package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/abis"
	"github.com/archon-research/dca/internal/pkg/multicall"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that BalanceReader implements outbound.BalanceReader
var _ outbound.BalanceReader = (*BalanceReader)(nil)

// BalanceReader reads token and native balances at the latest block.
type BalanceReader struct {
	multicaller multicall.Multicaller
	erc20       *abi.ABI
	multicall3  *abi.ABI
}

// NewBalanceReader creates a reader on multicaller.
func NewBalanceReader(multicaller multicall.Multicaller) (*BalanceReader, error) {
	if multicaller == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	erc20, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	mc3, err := abis.GetMulticall3ABI()
	if err != nil {
		return nil, fmt.Errorf("loading multicall3 ABI: %w", err)
	}
	return &BalanceReader{multicaller: multicaller, erc20: erc20, multicall3: mc3}, nil
}

// BalanceOf returns account's balance of asset.
func (r *BalanceReader) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	balances, err := r.BalancesOf(ctx, account, []common.Address{asset})
	if err != nil {
		return nil, err
	}
	return balances[asset], nil
}

// BalancesOf reads every asset balance of account in one eth_call.
// The native balance is read through Multicall3's getEthBalance.
func (r *BalanceReader) BalancesOf(ctx context.Context, account common.Address, assets []common.Address) (map[common.Address]*big.Int, error) {
	calls := make([]multicall.Call, len(assets))
	for i, asset := range assets {
		call, err := r.balanceCall(asset, account)
		if err != nil {
			return nil, err
		}
		calls[i] = call
	}

	results, err := r.multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("reading balances of %s: %w", account.Hex(), err)
	}
	if len(results) != len(assets) {
		return nil, fmt.Errorf("expected %d balance results, got %d", len(assets), len(results))
	}

	out := make(map[common.Address]*big.Int, len(assets))
	for i, asset := range assets {
		if !results[i].Success {
			return nil, fmt.Errorf("balance call for %s reverted", asset.Hex())
		}
		balance, err := r.decodeBalance(asset, results[i].ReturnData)
		if err != nil {
			return nil, err
		}
		out[asset] = balance
	}
	return out, nil
}

func (r *BalanceReader) balanceCall(asset, account common.Address) (multicall.Call, error) {
	if entity.IsNativeAsset(asset) {
		data, err := r.multicall3.Pack("getEthBalance", account)
		if err != nil {
			return multicall.Call{}, fmt.Errorf("packing getEthBalance: %w", err)
		}
		return multicall.Call{Target: r.multicaller.Address(), AllowFailure: true, CallData: data}, nil
	}
	data, err := r.erc20.Pack("balanceOf", account)
	if err != nil {
		return multicall.Call{}, fmt.Errorf("packing balanceOf: %w", err)
	}
	return multicall.Call{Target: asset, AllowFailure: true, CallData: data}, nil
}

func (r *BalanceReader) decodeBalance(asset common.Address, data []byte) (*big.Int, error) {
	contract, method := r.erc20, "balanceOf"
	if entity.IsNativeAsset(asset) {
		contract, method = r.multicall3, "getEthBalance"
	}
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decoding balance of %s: %w", asset.Hex(), err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", out[0])
	}
	return balance, nil
}

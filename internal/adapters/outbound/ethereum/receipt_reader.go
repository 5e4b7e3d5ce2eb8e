package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/abis"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that ReceiptReader implements outbound.ReceiptReader
var _ outbound.ReceiptReader = (*ReceiptReader)(nil)

// TransactionReceiptGetter is the subset of ethclient.Client used by ReceiptReader.
type TransactionReceiptGetter interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReceiptReader looks up mined receipts.
type ReceiptReader struct {
	client        TransactionReceiptGetter
	transferTopic common.Hash
	erc20         *abi.ABI
	logger        *slog.Logger
}

// NewReceiptReader creates a receipt reader on client.
func NewReceiptReader(client TransactionReceiptGetter, logger *slog.Logger) (*ReceiptReader, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	erc20, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptReader{
		client:        client,
		transferTopic: erc20.Events["Transfer"].ID,
		erc20:         erc20,
		logger:        logger.With("component", "receipt-reader"),
	}, nil
}

// Receipt returns the receipt of txRef. found is false while the transaction
// is unknown to the node.
func (r *ReceiptReader) Receipt(ctx context.Context, txRef string, outputToken, recipient common.Address) (*entity.Receipt, bool, error) {
	if !isHexHash(txRef) {
		return nil, false, fmt.Errorf("invalid transaction reference %q", txRef)
	}
	raw, err := r.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetching receipt %s: %w", txRef, err)
	}

	receipt := &entity.Receipt{
		TxReference:       txRef,
		Status:            entity.ReceiptReverted,
		GasUsed:           raw.GasUsed,
		EffectiveGasPrice: raw.EffectiveGasPrice,
	}
	if raw.BlockNumber != nil {
		receipt.BlockNumber = raw.BlockNumber.Uint64()
	}
	if raw.Status == types.ReceiptStatusSuccessful {
		receipt.Status = entity.ReceiptSuccess
		receipt.AmountOut = r.measureTransfers(raw.Logs, outputToken, recipient)
	}
	return receipt, true, nil
}

// measureTransfers sums Transfer(_, recipient, value) events emitted by token.
// It returns nil when no such event exists.
func (r *ReceiptReader) measureTransfers(logs []*types.Log, token, recipient common.Address) *big.Int {
	var total *big.Int
	for _, l := range logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != r.transferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
			continue
		}
		values, err := r.erc20.Unpack("Transfer", l.Data)
		if err != nil || len(values) != 1 {
			r.logger.Warn("undecodable transfer log", "txHash", l.TxHash.Hex(), "index", l.Index, "error", err)
			continue
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, value)
	}
	return total
}

func isHexHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

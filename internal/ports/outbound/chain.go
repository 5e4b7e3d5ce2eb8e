package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
)

// BalanceReader reads on-chain balances.
type BalanceReader interface {
	// BalanceOf returns account's balance of asset. entity.NativeAsset reads the native balance.
	BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error)
}

// ReceiptReader looks up the outcome of a submitted transaction.
type ReceiptReader interface {
	// Receipt returns the mined receipt for txRef, measuring the transfer of
	// outputToken to recipient. found is false while the transaction is not mined.
	Receipt(ctx context.Context, txRef string, outputToken, recipient common.Address) (receipt *entity.Receipt, found bool, err error)
}

// Signer signs and broadcasts a batch on behalf of the credential's bound account.
// The engine never constructs raw signatures itself.
type Signer interface {
	// SignAndSubmit broadcasts batch and returns its transaction reference.
	// It does not wait for inclusion.
	SignAndSubmit(ctx context.Context, batch *entity.Batch, credential entity.Credential) (txRef string, err error)
}

// QuoteProvider is one external liquidity source.
type QuoteProvider interface {
	// Name identifies the source in logs and execution records.
	Name() string

	// Quote returns an executable quote for req.
	Quote(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error)
}

// AccountLocker serializes submissions per signing account across processes.
type AccountLocker interface {
	// Lock blocks until the lock for key is held or ctx ends.
	// The returned function releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RemoteOrder is an order as reported by an external order book.
type RemoteOrder struct {
	UID                 string
	Status              string
	ExecutedSellAmount  *big.Int
	ExecutionsCompleted int
}

// OrderBookClient reads orders hosted on an external order book.
type OrderBookClient interface {
	// OrdersByOwner returns every order the book knows for owner.
	OrdersByOwner(ctx context.Context, owner common.Address) ([]RemoteOrder, error)
}

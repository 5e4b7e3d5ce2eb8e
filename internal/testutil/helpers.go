package testutil

import (
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
)

// Well-known addresses used across tests.
var (
	Owner       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	Account     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	Destination = common.HexToAddress("0x3333333333333333333333333333333333333333")
	USDC        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	WETH        = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	Router      = common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF")
	BadTarget   = common.HexToAddress("0xBADBADBADBADBADBADBADBADBADBADBADBADBAD0")
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewOrder returns a valid active direct order of total base units split
// into executions cycles, due at now.
func NewOrder(total int64, executions int, now time.Time) *entity.Order {
	return &entity.Order{
		ID:              uuid.New(),
		Owner:           Owner,
		FundingAccount:  Account,
		SourceAsset:     USDC,
		TargetAsset:     WETH,
		Destination:     Destination,
		TotalAmount:     big.NewInt(total),
		ExecutedAmount:  new(big.Int),
		TotalExecutions: executions,
		Interval:        time.Hour,
		NextExecutionAt: now,
		ExpiresAt:       now.Add(time.Duration(executions+1) * time.Hour),
		Status:          entity.OrderStatusActive,
		Venue:           entity.VenueDirect,
		Credential:      NewCredential(now),
		CreatedAt:       now.Add(-time.Minute),
		UpdatedAt:       now.Add(-time.Minute),
	}
}

// NewCredential returns a credential bound to Account, valid for 30 days around now.
func NewCredential(now time.Time) entity.Credential {
	return entity.Credential{
		KeyID:        "session-key-1",
		BoundAccount: Account,
		Scope: entity.CredentialScope{
			Targets: []common.Address{USDC, WETH, Router},
		},
		ValidAfter: now.Add(-24 * time.Hour),
		ValidUntil: now.Add(30 * 24 * time.Hour),
	}
}

// NewQuote returns a structurally valid quote for amountIn of USDC into WETH routed via Router.
func NewQuote(source string, amountIn, amountOut int64) *entity.Quote {
	return &entity.Quote{
		Source:         source,
		SourceAsset:    USDC,
		TargetAsset:    WETH,
		AmountIn:       big.NewInt(amountIn),
		AmountOut:      big.NewInt(amountOut),
		MinAmountOut:   big.NewInt(amountOut * 99 / 100),
		TargetContract: Router,
		CallData:       []byte{0xd9, 0x62, 0x7a, 0xa4, 0x00, 0x00},
		Value:          new(big.Int),
	}
}

package inbound

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
)

// CreateOrderRequest describes a new recurring order.
// Exactly one of TotalExecutions or Duration must be set.
type CreateOrderRequest struct {
	Owner           common.Address
	FundingAccount  common.Address
	SourceAsset     common.Address
	TargetAsset     common.Address
	Destination     common.Address
	TotalAmount     *big.Int
	Interval        time.Duration
	TotalExecutions int
	Duration        time.Duration
	StartAt         time.Time
	Credential      entity.Credential
	Venue           entity.Venue
	ExternalUID     string
}

// CancelResult is returned by CancelOrder.
type CancelResult struct {
	Order *entity.Order
	// SweepTxRef is set when remaining funds were swept out.
	SweepTxRef string
	// SweepError explains why a requested sweep did not happen. The order
	// is cancelled regardless.
	SweepError string
}

// OrderService is the owner-facing order API.
type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*entity.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	ListOrders(ctx context.Context, owner common.Address) ([]*entity.Order, error)
	ListExecutions(ctx context.Context, id uuid.UUID) ([]*entity.Execution, error)
	CancelOrder(ctx context.Context, id uuid.UUID, owner common.Address, sweepRemainingFunds bool) (*CancelResult, error)
	PauseOrder(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error)
	ResumeOrder(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error)
	ReauthorizeOrder(ctx context.Context, id uuid.UUID, owner common.Address, credential entity.Credential) (*entity.Order, error)
}

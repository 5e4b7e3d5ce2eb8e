package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Venue says who drives an order's lifecycle.
type Venue string

const (
	// VenueDirect orders are executed by this engine.
	VenueDirect Venue = "direct"
	// VenueOrderBook orders live on an external order book and are only mirrored locally.
	VenueOrderBook Venue = "orderbook"
)

// StallReason explains why an open order makes no forward progress.
type StallReason string

const (
	StallNone                StallReason = ""
	StallCredentialExpired   StallReason = "credential_expired"
	StallCredentialScope     StallReason = "credential_scope"
	StallRepeatedChainRevert StallReason = "repeated_chain_revert"
	StallPausedByOwner       StallReason = "paused_by_owner"
)

// NativeAsset is the pseudo-address used for the chain's native currency.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNativeAsset reports whether addr denotes the native currency.
func IsNativeAsset(addr common.Address) bool {
	return addr == NativeAsset
}

// Order is a recurring swap of SourceAsset into TargetAsset split into
// TotalExecutions cycles spaced Interval apart.
type Order struct {
	ID                  uuid.UUID
	Owner               common.Address
	FundingAccount      common.Address
	SourceAsset         common.Address
	TargetAsset         common.Address
	Destination         common.Address
	TotalAmount         *big.Int
	ExecutedAmount      *big.Int
	TotalExecutions     int
	ExecutionsCompleted int
	Interval            time.Duration
	NextExecutionAt     time.Time
	ExpiresAt           time.Time
	Status              OrderStatus
	Venue               Venue
	ExternalUID         string
	Credential          Credential
	StallReason         StallReason
	ConsecutiveReverts  int
	LastError           string
	CreatedAt           time.Time
	LastExecutedAt      *time.Time
	ClaimedAt           *time.Time
	UpdatedAt           time.Time
}

// Validate checks the order's structural invariants.
func (o *Order) Validate() error {
	if o.ID == uuid.Nil {
		return fmt.Errorf("%w: id must be set", ErrInvalidOrder)
	}
	if o.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner must not be zero", ErrInvalidOrder)
	}
	if o.FundingAccount == (common.Address{}) {
		return fmt.Errorf("%w: funding account must not be zero", ErrInvalidOrder)
	}
	if o.SourceAsset == o.TargetAsset {
		return fmt.Errorf("%w: source and target asset must differ", ErrInvalidOrder)
	}
	if o.Destination == (common.Address{}) {
		return fmt.Errorf("%w: destination must not be zero", ErrInvalidOrder)
	}
	if o.TotalAmount == nil || o.TotalAmount.Sign() <= 0 {
		return fmt.Errorf("%w: total amount must be positive", ErrInvalidOrder)
	}
	if o.ExecutedAmount == nil || o.ExecutedAmount.Sign() < 0 {
		return fmt.Errorf("%w: executed amount must be non-negative", ErrInvalidOrder)
	}
	if o.ExecutedAmount.Cmp(o.TotalAmount) > 0 {
		return fmt.Errorf("%w: executed amount exceeds total", ErrInvalidOrder)
	}
	if o.TotalExecutions <= 0 {
		return fmt.Errorf("%w: total executions must be positive, got %d", ErrInvalidOrder, o.TotalExecutions)
	}
	if o.ExecutionsCompleted < 0 || o.ExecutionsCompleted > o.TotalExecutions {
		return fmt.Errorf("%w: executions completed %d out of range [0,%d]", ErrInvalidOrder, o.ExecutionsCompleted, o.TotalExecutions)
	}
	if o.Interval < time.Second {
		return fmt.Errorf("%w: interval must be at least one second", ErrInvalidOrder)
	}
	if !o.ExpiresAt.After(o.NextExecutionAt) {
		return fmt.Errorf("%w: expiry must be after next execution", ErrInvalidOrder)
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, o.Status)
	}
	if (o.Status == OrderStatusCompleted) != (o.ExecutionsCompleted == o.TotalExecutions) {
		return fmt.Errorf("%w: completed status must match execution count", ErrInvalidOrder)
	}
	if o.Venue != VenueDirect && o.Venue != VenueOrderBook {
		return fmt.Errorf("%w: unknown venue %q", ErrInvalidOrder, o.Venue)
	}
	if o.Venue == VenueDirect {
		if err := o.Credential.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		if o.Credential.BoundAccount != o.FundingAccount {
			return fmt.Errorf("%w: credential must be bound to the funding account", ErrInvalidOrder)
		}
	}
	return nil
}

// RemainingAmount is the source amount not yet spent.
func (o *Order) RemainingAmount() *big.Int {
	return new(big.Int).Sub(o.TotalAmount, o.ExecutedAmount)
}

// RemainingExecutions is the number of cycles still to run.
func (o *Order) RemainingExecutions() int {
	return o.TotalExecutions - o.ExecutionsCompleted
}

// PerExecutionAmount is the remaining amount divided by the remaining cycles.
// Rounding drift is absorbed by the final cycle, which receives everything left.
func (o *Order) PerExecutionAmount() *big.Int {
	left := o.RemainingExecutions()
	if left <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(o.RemainingAmount(), big.NewInt(int64(left)))
}

// IsFinalCycle reports whether the next recorded cycle completes the order.
func (o *Order) IsFinalCycle() bool {
	return o.RemainingExecutions() == 1
}

// IsDue reports whether the order should be picked up by a sweep at now.
func (o *Order) IsDue(now time.Time) bool {
	return o.Status.IsSchedulable() &&
		o.Venue == VenueDirect &&
		o.StallReason == StallNone &&
		!o.NextExecutionAt.After(now) &&
		o.ExpiresAt.After(now) &&
		o.ExecutionsCompleted < o.TotalExecutions
}

// IsStalled reports whether the order is open but blocked on owner action.
func (o *Order) IsStalled() bool {
	return o.StallReason != StallNone
}

// NeedsReauthorization reports whether only a new credential can clear the stall.
func (o *Order) NeedsReauthorization() bool {
	return o.StallReason == StallCredentialExpired || o.StallReason == StallCredentialScope
}

// MarkClaimed mirrors a claim taken at at onto this copy. The claim instant
// identifies the claim when the cycle is recorded.
func (o *Order) MarkClaimed(at time.Time) {
	claimed := at
	o.Status = OrderStatusExecuting
	o.ClaimedAt = &claimed
}

// HoldsClaim reports whether this copy carries the claim taken at claimedAt.
func (o *Order) HoldsClaim(claimedAt *time.Time) bool {
	return o.ClaimedAt != nil && claimedAt != nil && o.ClaimedAt.Equal(*claimedAt)
}

// AdvanceCycle applies one recorded cycle that spent amountIn at time at.
// It is the only mutation of the progress fields.
func (o *Order) AdvanceCycle(amountIn *big.Int, at time.Time) error {
	if o.ExecutionsCompleted >= o.TotalExecutions {
		return fmt.Errorf("%w: order %s has no remaining executions", ErrIllegalTransition, o.ID)
	}
	if amountIn == nil {
		amountIn = new(big.Int)
	}
	if amountIn.Sign() < 0 {
		return fmt.Errorf("amount in must be non-negative")
	}
	spent := new(big.Int).Add(o.ExecutedAmount, amountIn)
	if spent.Cmp(o.TotalAmount) > 0 {
		return fmt.Errorf("amount in %s exceeds remaining %s", amountIn, o.RemainingAmount())
	}

	next := StatusAfterCycle(o.ExecutionsCompleted+1, o.TotalExecutions)
	if o.Status == OrderStatusExecuting {
		if err := ValidateTransition(o.Status, next); err != nil {
			return err
		}
	}

	o.ExecutionsCompleted++
	o.ExecutedAmount = spent
	executedAt := at
	o.LastExecutedAt = &executedAt
	if nextAt := at.Add(o.Interval); nextAt.After(o.NextExecutionAt) {
		o.NextExecutionAt = nextAt
	}
	o.Status = next
	o.ConsecutiveReverts = 0
	o.LastError = ""
	return nil
}

// StatusAfterCycle is the status an order takes once completed of total cycles are recorded.
func StatusAfterCycle(completed, total int) OrderStatus {
	if completed >= total {
		return OrderStatusCompleted
	}
	return OrderStatusActive
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.TotalAmount = cloneBig(o.TotalAmount)
	c.ExecutedAmount = cloneBig(o.ExecutedAmount)
	c.Credential.Scope.Targets = append([]common.Address(nil), o.Credential.Scope.Targets...)
	c.Credential.Scope.Selectors = append([]Selector(nil), o.Credential.Scope.Selectors...)
	c.Credential.Scope.ValueCeiling = cloneBig(o.Credential.Scope.ValueCeiling)
	if o.LastExecutedAt != nil {
		t := *o.LastExecutedAt
		c.LastExecutedAt = &t
	}
	if o.ClaimedAt != nil {
		t := *o.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteRequest asks a liquidity source how much TargetAsset AmountIn of SourceAsset buys.
// Account is the address the swap will be executed from. Recipient receives
// the output; zero means Account.
type QuoteRequest struct {
	SourceAsset common.Address
	TargetAsset common.Address
	AmountIn    *big.Int
	Account     common.Address
	Recipient   common.Address
}

// Receiver is the address the swap output must be delivered to.
func (r QuoteRequest) Receiver() common.Address {
	if r.Recipient == (common.Address{}) {
		return r.Account
	}
	return r.Recipient
}

// Quote is an executable swap offer. It is discarded at the end of the cycle.
type Quote struct {
	Source         string
	SourceAsset    common.Address
	TargetAsset    common.Address
	AmountIn       *big.Int
	AmountOut      *big.Int
	MinAmountOut   *big.Int
	TargetContract common.Address
	CallData       []byte
	Value          *big.Int

	// Recipient is where the swap call delivers TargetAsset. Zero means the
	// executing account.
	Recipient common.Address
}

// ValidateStructure checks that q can be executed for req.
func (q *Quote) ValidateStructure(req QuoteRequest) error {
	if q.TargetContract == (common.Address{}) {
		return fmt.Errorf("%w: missing target contract", ErrSuspiciousQuote)
	}
	if len(q.CallData) < 4 {
		return fmt.Errorf("%w: missing call data", ErrSuspiciousQuote)
	}
	if q.AmountOut == nil || q.AmountOut.Sign() <= 0 {
		return fmt.Errorf("%w: missing amount out", ErrSuspiciousQuote)
	}
	if q.SourceAsset != req.SourceAsset || q.TargetAsset != req.TargetAsset {
		return fmt.Errorf("%w: asset pair mismatch", ErrSuspiciousQuote)
	}
	if q.Recipient != (common.Address{}) && q.Recipient != req.Receiver() {
		return fmt.Errorf("%w: output goes to %s, want %s", ErrSuspiciousQuote, q.Recipient.Hex(), req.Receiver().Hex())
	}
	if q.AmountIn == nil || q.AmountIn.Cmp(req.AmountIn) != 0 {
		return fmt.Errorf("%w: amount in %v does not match requested %s", ErrSuspiciousQuote, q.AmountIn, req.AmountIn)
	}
	if q.MinAmountOut != nil && (q.MinAmountOut.Sign() < 0 || q.MinAmountOut.Cmp(q.AmountOut) > 0) {
		return fmt.Errorf("%w: min amount out %s exceeds amount out %s", ErrSuspiciousQuote, q.MinAmountOut, q.AmountOut)
	}
	if q.Value != nil && q.Value.Sign() > 0 && !IsNativeAsset(q.SourceAsset) {
		return fmt.Errorf("%w: native value attached to token swap", ErrSuspiciousQuote)
	}
	if IsNativeAsset(q.SourceAsset) && (q.Value == nil || q.Value.Cmp(q.AmountIn) != 0) {
		return fmt.Errorf("%w: native swap value must equal amount in", ErrSuspiciousQuote)
	}
	return nil
}

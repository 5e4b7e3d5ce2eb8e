package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CallKind labels a sub-operation of a batch.
type CallKind string

const (
	CallApprove CallKind = "approve"
	CallSwap    CallKind = "swap"
	CallSweep   CallKind = "sweep"
)

// Call is one sub-operation executed from the funding account.
type Call struct {
	Kind   CallKind
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// Batch is an ordered all-or-nothing list of calls executed by Account.
type Batch struct {
	OrderID uuid.UUID
	Account common.Address
	Calls   []Call
	// OutputToken and Recipient identify the transfer whose amount is measured
	// from the receipt logs.
	OutputToken common.Address
	Recipient   common.Address
}

// TotalValue sums the native value sent by all calls.
func (b *Batch) TotalValue() *big.Int {
	total := new(big.Int)
	for _, c := range b.Calls {
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}
	return total
}

// Targets returns every call target in order.
func (b *Batch) Targets() []common.Address {
	out := make([]common.Address, 0, len(b.Calls))
	for _, c := range b.Calls {
		out = append(out, c.Target)
	}
	return out
}

// ReceiptStatus is the on-chain outcome of a mined transaction.
type ReceiptStatus int

const (
	ReceiptUnknown ReceiptStatus = iota
	ReceiptSuccess
	ReceiptReverted
)

// Receipt describes a mined batch transaction.
type Receipt struct {
	TxReference       string
	BlockNumber       uint64
	Status            ReceiptStatus
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	// AmountOut is the measured output delivered to the batch's measurement
	// recipient, or nil when it could not be determined from logs.
	AmountOut *big.Int
}

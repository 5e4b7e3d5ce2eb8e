// Package amount converts between human-readable decimal token amounts and
// integer base units.
package amount

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits parses a decimal string such as "100.5" into base units for a
// token with the given decimals. Amounts with more fractional digits than the
// token supports are rejected rather than rounded.
func ToBaseUnits(s string, decimals int32) (*big.Int, error) {
	if decimals < 0 || decimals > 77 {
		return nil, fmt.Errorf("decimals %d out of range", decimals)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits formats base units as a decimal string with trailing zeros trimmed.
func FromBaseUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// ApplyBps returns v * (10000 - bps) / 10000, rounded down.
func ApplyBps(v *big.Int, bps int64) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(v, big.NewInt(10_000-bps))
	return out.Quo(out, big.NewInt(10_000))
}

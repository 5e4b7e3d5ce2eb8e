package entity

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Selector is a 4-byte contract function selector.
type Selector [4]byte

// SelectorFromCallData returns the first four bytes of data.
func SelectorFromCallData(data []byte) (Selector, bool) {
	var s Selector
	if len(data) < 4 {
		return s, false
	}
	copy(s[:], data[:4])
	return s, true
}

// ParseSelector parses a 0x-prefixed 4-byte hex selector.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return sel, fmt.Errorf("decoding selector %q: %w", s, err)
	}
	if len(raw) != 4 {
		return sel, fmt.Errorf("selector %q must be 4 bytes, got %d", s, len(raw))
	}
	copy(sel[:], raw)
	return sel, nil
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CredentialScope limits what a delegated key may do. An empty Selectors list
// permits any function on an allowed target. A nil ValueCeiling forbids
// sending native value.
type CredentialScope struct {
	Targets      []common.Address `json:"targets"`
	Selectors    []Selector       `json:"selectors,omitempty"`
	ValueCeiling *big.Int         `json:"valueCeiling,omitempty"`
}

// Credential is a scope-limited delegated signing authority bound to one account.
type Credential struct {
	KeyID        string          `json:"keyId"`
	BoundAccount common.Address  `json:"boundAccount"`
	Scope        CredentialScope `json:"scope"`
	ValidAfter   time.Time       `json:"validAfter"`
	ValidUntil   time.Time       `json:"validUntil"`
}

// Validate checks that the credential is well formed.
func (c Credential) Validate() error {
	if c.KeyID == "" {
		return fmt.Errorf("credential keyId must not be empty")
	}
	if c.BoundAccount == (common.Address{}) {
		return fmt.Errorf("credential bound account must not be zero")
	}
	if c.ValidUntil.IsZero() {
		return fmt.Errorf("credential validUntil must be set")
	}
	if !c.ValidAfter.IsZero() && !c.ValidUntil.After(c.ValidAfter) {
		return fmt.Errorf("credential validUntil must be after validAfter")
	}
	if c.Scope.ValueCeiling != nil && c.Scope.ValueCeiling.Sign() < 0 {
		return fmt.Errorf("credential value ceiling must be non-negative")
	}
	return nil
}

// ValidAt returns ErrCredentialExpired unless validAfter <= now <= validUntil.
func (c Credential) ValidAt(now time.Time) error {
	if now.Before(c.ValidAfter) {
		return fmt.Errorf("%w: not valid before %s", ErrCredentialExpired, c.ValidAfter.UTC().Format(time.RFC3339))
	}
	if now.After(c.ValidUntil) {
		return fmt.Errorf("%w: expired at %s", ErrCredentialExpired, c.ValidUntil.UTC().Format(time.RFC3339))
	}
	return nil
}

// Permits returns ErrCredentialScope if call falls outside the credential scope.
func (c Credential) Permits(call Call) error {
	if !c.allowsTarget(call.Target) {
		return fmt.Errorf("%w: target %s", ErrCredentialScope, call.Target.Hex())
	}
	if len(c.Scope.Selectors) > 0 && len(call.Data) > 0 {
		sel, ok := SelectorFromCallData(call.Data)
		if !ok || !c.allowsSelector(sel) {
			return fmt.Errorf("%w: selector %x on %s", ErrCredentialScope, call.Data[:min(4, len(call.Data))], call.Target.Hex())
		}
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		if c.Scope.ValueCeiling == nil || call.Value.Cmp(c.Scope.ValueCeiling) > 0 {
			return fmt.Errorf("%w: value %s exceeds ceiling", ErrCredentialScope, call.Value)
		}
	}
	return nil
}

func (c Credential) allowsTarget(target common.Address) bool {
	for _, t := range c.Scope.Targets {
		if t == target {
			return true
		}
	}
	return false
}

func (c Credential) allowsSelector(sel Selector) bool {
	for _, s := range c.Scope.Selectors {
		if bytes.Equal(s[:], sel[:]) {
			return true
		}
	}
	return false
}

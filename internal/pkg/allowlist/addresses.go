package allowlist

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// addressFloor is 2^64. An ABI word whose top 12 bytes are zero and whose
// value is at least this large is read as an address unless it equals one of
// the known amounts passed to EmbeddedAddresses. Offsets, lengths, deadlines
// and small amounts stay below it; an address under it would need twelve
// leading zero bytes.
var addressFloor = new(big.Int).Lsh(big.NewInt(1), 64)

// EmbeddedAddresses returns the address-shaped 32-byte words of callData,
// read at ABI word alignment after the 4-byte selector. Words equal to one
// of known are amounts and are skipped. Duplicates are removed.
func EmbeddedAddresses(callData []byte, known ...*big.Int) []common.Address {
	if len(callData) < 4+32 {
		return nil
	}
	body := callData[4:]

	seen := make(map[common.Address]struct{})
	var out []common.Address
	word := new(big.Int)
	for off := 0; off+32 <= len(body); off += 32 {
		w := body[off : off+32]
		if !zeroPrefix(w[:12]) {
			continue
		}
		if word.SetBytes(w).Cmp(addressFloor) < 0 || isKnownAmount(word, known) {
			continue
		}
		addr := common.BytesToAddress(w[12:])
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func isKnownAmount(word *big.Int, known []*big.Int) bool {
	for _, k := range known {
		if k != nil && k.Cmp(word) == 0 {
			return true
		}
	}
	return false
}

func zeroPrefix(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// ParseAddressList parses hex addresses separated by commas, semicolons or whitespace.
// Duplicates are dropped. An empty input yields (nil, nil).
func ParseAddressList(raw string) ([]common.Address, error) {
	parts := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return nil, nil
	}

	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, part := range parts {
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid hex address %q", part)
		}
		addr := common.HexToAddress(part)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

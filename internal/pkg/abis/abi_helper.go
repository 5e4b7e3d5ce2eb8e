// Package abis holds the contract ABIs the engine encodes calls against.
package abis

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseABI parses a JSON ABI definition.
func ParseABI(abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// lazyABI parses its definition once and caches the result.
type lazyABI struct {
	once   sync.Once
	json   string
	parsed *abi.ABI
	err    error
}

func (l *lazyABI) get() (*abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = ParseABI(l.json)
	})
	return l.parsed, l.err
}

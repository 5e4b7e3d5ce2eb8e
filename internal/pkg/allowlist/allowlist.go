// Package allowlist implements the fail-closed address gate applied to every
// quote before anything is signed, plus the per-token minimum amounts that
// share its configuration file.
package allowlist

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/dca/internal/domain/entity"
)

// FileConfig is the YAML layout of the allow-list file.
//
//	routers:
//	  - "0xDef1C0ded9bec7F1a1670819833240f027b25EfF"
//	tokens:
//	  - "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
//	payouts: []
//	minimums:
//	  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48": "1000000"
//	defaultMinimum: "0"
type FileConfig struct {
	Routers        []string          `yaml:"routers"`
	Tokens         []string          `yaml:"tokens"`
	Payouts        []string          `yaml:"payouts"`
	Minimums       map[string]string `yaml:"minimums"`
	DefaultMinimum string            `yaml:"defaultMinimum"`
}

// List is an immutable set of known-good addresses.
type List struct {
	addrs  map[common.Address]struct{}
	tokens map[common.Address]struct{}
}

// New builds a List from routers, tokens and payout addresses.
// The native-asset sentinel is always included.
func New(routers, tokens, payouts []common.Address) *List {
	l := &List{
		addrs:  make(map[common.Address]struct{}),
		tokens: make(map[common.Address]struct{}),
	}
	l.addrs[entity.NativeAsset] = struct{}{}
	l.tokens[entity.NativeAsset] = struct{}{}
	for _, group := range [][]common.Address{routers, tokens, payouts} {
		for _, a := range group {
			l.addrs[a] = struct{}{}
		}
	}
	for _, t := range tokens {
		l.tokens[t] = struct{}{}
	}
	return l
}

// Contains reports whether addr is allow-listed.
func (l *List) Contains(addr common.Address) bool {
	_, ok := l.addrs[addr]
	return ok
}

// IsToken reports whether addr is an allow-listed token.
func (l *List) IsToken(addr common.Address) bool {
	_, ok := l.tokens[addr]
	return ok
}

// Len returns the number of allow-listed addresses.
func (l *List) Len() int {
	return len(l.addrs)
}

// Gate is the allow-list extended with per-order addresses.
type Gate struct {
	list  *List
	extra map[common.Address]struct{}
}

// ForOrder extends the list with the addresses an order legitimately interacts with.
func (l *List) ForOrder(extra ...common.Address) *Gate {
	g := &Gate{list: l, extra: make(map[common.Address]struct{}, len(extra))}
	for _, a := range extra {
		g.extra[a] = struct{}{}
	}
	return g
}

// Allows reports whether addr is allow-listed for this order.
func (g *Gate) Allows(addr common.Address) bool {
	if g.list.Contains(addr) {
		return true
	}
	_, ok := g.extra[addr]
	return ok
}

// CheckQuote rejects q with entity.ErrUnauthorizedTarget if its target
// contract or any address embedded in its call data is not allowed.
// Quote amounts are only used to tell amount words from addresses; price
// never affects the outcome.
func (g *Gate) CheckQuote(q *entity.Quote) error {
	if !g.Allows(q.TargetContract) {
		return fmt.Errorf("%w: quote from %s targets %s", entity.ErrUnauthorizedTarget, q.Source, q.TargetContract.Hex())
	}
	for _, addr := range EmbeddedAddresses(q.CallData, q.AmountIn, q.AmountOut, q.MinAmountOut, q.Value) {
		if !g.Allows(addr) {
			return fmt.Errorf("%w: quote from %s embeds %s", entity.ErrUnauthorizedTarget, q.Source, addr.Hex())
		}
	}
	return nil
}

// CheckCalls rejects any call whose target is not allowed.
func (g *Gate) CheckCalls(calls []entity.Call) error {
	for _, c := range calls {
		if !g.Allows(c.Target) {
			return fmt.Errorf("%w: %s call targets %s", entity.ErrUnauthorizedTarget, c.Kind, c.Target.Hex())
		}
	}
	return nil
}

// Load reads a YAML allow-list file and merges extra addresses as payouts.
func Load(path string, extra []common.Address) (*List, *Minimums, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading allow-list %s: %w", path, err)
	}
	return Parse(raw, extra)
}

// Parse decodes YAML allow-list content.
func Parse(raw []byte, extra []common.Address) (*List, *Minimums, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing allow-list: %w", err)
	}

	routers, err := parseAddresses("routers", cfg.Routers)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := parseAddresses("tokens", cfg.Tokens)
	if err != nil {
		return nil, nil, err
	}
	payouts, err := parseAddresses("payouts", cfg.Payouts)
	if err != nil {
		return nil, nil, err
	}
	if len(routers) == 0 {
		return nil, nil, fmt.Errorf("allow-list must name at least one router")
	}

	mins, err := parseMinimums(cfg.Minimums, cfg.DefaultMinimum)
	if err != nil {
		return nil, nil, err
	}
	return New(routers, tokens, append(payouts, extra...)), mins, nil
}

func parseAddresses(field string, values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("%s: invalid hex address %q", field, v)
		}
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}

// Minimums holds per-asset dust thresholds in base units.
type Minimums struct {
	perAsset map[common.Address]*big.Int
	fallback *big.Int
}

// NewMinimums creates thresholds with a default for unlisted assets.
func NewMinimums(perAsset map[common.Address]*big.Int, fallback *big.Int) *Minimums {
	if fallback == nil {
		fallback = new(big.Int)
	}
	m := &Minimums{perAsset: make(map[common.Address]*big.Int, len(perAsset)), fallback: fallback}
	for a, v := range perAsset {
		m.perAsset[a] = new(big.Int).Set(v)
	}
	return m
}

// For returns the minimum executable amount of asset.
func (m *Minimums) For(asset common.Address) *big.Int {
	if m == nil {
		return new(big.Int)
	}
	if v, ok := m.perAsset[asset]; ok {
		return v
	}
	return m.fallback
}

func parseMinimums(raw map[string]string, fallback string) (*Minimums, error) {
	per := make(map[common.Address]*big.Int, len(raw))
	for addr, v := range raw {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("minimums: invalid hex address %q", addr)
		}
		amount, ok := new(big.Int).SetString(v, 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("minimums: invalid amount %q for %s", v, addr)
		}
		per[common.HexToAddress(addr)] = amount
	}

	def := new(big.Int)
	if fallback != "" {
		var ok bool
		if def, ok = new(big.Int).SetString(fallback, 10); !ok || def.Sign() < 0 {
			return nil, fmt.Errorf("defaultMinimum: invalid amount %q", fallback)
		}
	}
	return NewMinimums(per, def), nil
}

package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// MockQuoteProvider implements outbound.QuoteProvider for testing.
type MockQuoteProvider struct {
	NameValue string
	QuoteFn   func(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error)

	mu    sync.Mutex
	calls int
}

func (m *MockQuoteProvider) Name() string { return m.NameValue }

func (m *MockQuoteProvider) Quote(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.QuoteFn != nil {
		return m.QuoteFn(ctx, req)
	}
	return nil, errors.New("Quote not mocked")
}

// Calls returns how many times Quote was invoked.
func (m *MockQuoteProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// StaticQuoteProvider returns a provider that always answers with quote,
// adjusted to the requested amount.
func StaticQuoteProvider(name string, amountOut int64, target common.Address) *MockQuoteProvider {
	return &MockQuoteProvider{
		NameValue: name,
		QuoteFn: func(_ context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
			q := NewQuote(name, req.AmountIn.Int64(), amountOut)
			q.SourceAsset = req.SourceAsset
			q.TargetAsset = req.TargetAsset
			q.TargetContract = target
			q.Recipient = req.Receiver()
			return q, nil
		},
	}
}

// MockSigner implements outbound.Signer for testing.
type MockSigner struct {
	SignAndSubmitFn func(ctx context.Context, batch *entity.Batch, credential entity.Credential) (string, error)

	mu      sync.Mutex
	Batches []*entity.Batch
}

func (m *MockSigner) SignAndSubmit(ctx context.Context, batch *entity.Batch, credential entity.Credential) (string, error) {
	m.mu.Lock()
	m.Batches = append(m.Batches, batch)
	m.mu.Unlock()
	if m.SignAndSubmitFn != nil {
		return m.SignAndSubmitFn(ctx, batch, credential)
	}
	return "0xfeed", nil
}

// Submitted returns the number of submitted batches.
func (m *MockSigner) Submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Batches)
}

// MockReceiptReader implements outbound.ReceiptReader for testing.
type MockReceiptReader struct {
	ReceiptFn func(ctx context.Context, txRef string, outputToken, recipient common.Address) (*entity.Receipt, bool, error)
}

func (m *MockReceiptReader) Receipt(ctx context.Context, txRef string, outputToken, recipient common.Address) (*entity.Receipt, bool, error) {
	if m.ReceiptFn != nil {
		return m.ReceiptFn(ctx, txRef, outputToken, recipient)
	}
	return nil, false, nil
}

// MinedReceipts returns a receipt reader that reports every transaction as
// mined with status and the given measured output.
func MinedReceipts(status entity.ReceiptStatus, amountOut *big.Int) *MockReceiptReader {
	return &MockReceiptReader{
		ReceiptFn: func(_ context.Context, txRef string, _, _ common.Address) (*entity.Receipt, bool, error) {
			return &entity.Receipt{
				TxReference:       txRef,
				BlockNumber:       100,
				Status:            status,
				GasUsed:           21000,
				EffectiveGasPrice: big.NewInt(1_000_000_000),
				AmountOut:         amountOut,
			}, true, nil
		},
	}
}

// MockBalanceReader implements outbound.BalanceReader for testing.
type MockBalanceReader struct {
	BalanceOfFn func(ctx context.Context, asset, account common.Address) (*big.Int, error)
}

func (m *MockBalanceReader) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	if m.BalanceOfFn != nil {
		return m.BalanceOfFn(ctx, asset, account)
	}
	return nil, errors.New("BalanceOf not mocked")
}

// FixedBalance returns a balance reader that reports balance for every asset.
func FixedBalance(balance int64) *MockBalanceReader {
	return &MockBalanceReader{
		BalanceOfFn: func(context.Context, common.Address, common.Address) (*big.Int, error) {
			return big.NewInt(balance), nil
		},
	}
}

// MockOrderBookClient implements outbound.OrderBookClient for testing.
type MockOrderBookClient struct {
	OrdersByOwnerFn func(ctx context.Context, owner common.Address) ([]outbound.RemoteOrder, error)
}

func (m *MockOrderBookClient) OrdersByOwner(ctx context.Context, owner common.Address) ([]outbound.RemoteOrder, error) {
	if m.OrdersByOwnerFn != nil {
		return m.OrdersByOwnerFn(ctx, owner)
	}
	return nil, nil
}

// RecordingMetrics implements outbound.ExecutionMetrics and keeps every outcome.
type RecordingMetrics struct {
	mu       sync.Mutex
	Outcomes []string
	Sweeps   int
	Quotes   map[string]int
}

func (m *RecordingMetrics) RecordCycle(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = append(m.Outcomes, outcome)
}

func (m *RecordingMetrics) RecordSweep(context.Context, int, int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sweeps++
}

func (m *RecordingMetrics) RecordQuote(_ context.Context, source string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Quotes == nil {
		m.Quotes = make(map[string]int)
	}
	m.Quotes[source]++
}

var (
	_ outbound.QuoteProvider    = (*MockQuoteProvider)(nil)
	_ outbound.Signer           = (*MockSigner)(nil)
	_ outbound.ReceiptReader    = (*MockReceiptReader)(nil)
	_ outbound.BalanceReader    = (*MockBalanceReader)(nil)
	_ outbound.OrderBookClient  = (*MockOrderBookClient)(nil)
	_ outbound.ExecutionMetrics = (*RecordingMetrics)(nil)
)

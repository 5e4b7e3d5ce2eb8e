package quote_aggregator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/abis"
	"github.com/archon-research/dca/internal/pkg/allowlist"
	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/testutil"
)

func testGate() *allowlist.Gate {
	list := allowlist.New(
		[]common.Address{testutil.Router},
		[]common.Address{testutil.USDC, testutil.WETH},
		nil,
	)
	return list.ForOrder(testutil.Account, testutil.Destination)
}

func testRequest() entity.QuoteRequest {
	return entity.QuoteRequest{
		SourceAsset: testutil.USDC,
		TargetAsset: testutil.WETH,
		AmountIn:    big.NewInt(10),
		Account:     testutil.Account,
	}
}

func failingProvider(name string, err error) *testutil.MockQuoteProvider {
	return &testutil.MockQuoteProvider{
		NameValue: name,
		QuoteFn: func(context.Context, entity.QuoteRequest) (*entity.Quote, error) {
			return nil, err
		},
	}
}

func newService(t *testing.T, providers ...outbound.QuoteProvider) (*Service, *testutil.RecordingMetrics) {
	t.Helper()
	metrics := &testutil.RecordingMetrics{}
	svc, err := NewService(providers, metrics, Config{PerSourceTimeout: 200 * time.Millisecond}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, metrics
}

func TestBestQuote_PicksLargestAmountOut(t *testing.T) {
	svc, metrics := newService(t,
		testutil.StaticQuoteProvider("a", 900, testutil.Router),
		testutil.StaticQuoteProvider("b", 998, testutil.Router),
		testutil.StaticQuoteProvider("c", 950, testutil.Router),
	)

	q, err := svc.BestQuote(context.Background(), testRequest(), testGate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Source != "b" || q.AmountOut.Int64() != 998 {
		t.Errorf("got %s/%s, want b/998", q.Source, q.AmountOut)
	}
	if len(metrics.Quotes) != 3 {
		t.Errorf("expected metrics for 3 sources, got %v", metrics.Quotes)
	}
}

func TestBestQuote_TieKeepsFirstSource(t *testing.T) {
	svc, _ := newService(t,
		testutil.StaticQuoteProvider("first", 500, testutil.Router),
		testutil.StaticQuoteProvider("second", 500, testutil.Router),
	)
	q, err := svc.BestQuote(context.Background(), testRequest(), testGate())
	if err != nil {
		t.Fatal(err)
	}
	if q.Source != "first" {
		t.Errorf("Source = %q, want first", q.Source)
	}
}

func TestBestQuote_ExcludesFailedAndMalformedSources(t *testing.T) {
	malformed := &testutil.MockQuoteProvider{
		NameValue: "malformed",
		QuoteFn: func(_ context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
			q := testutil.NewQuote("malformed", req.AmountIn.Int64(), 5000)
			q.CallData = nil
			return q, nil
		},
	}
	slow := &testutil.MockQuoteProvider{
		NameValue: "slow",
		QuoteFn: func(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc, _ := newService(t,
		failingProvider("down", errors.New("503")),
		malformed,
		slow,
		testutil.StaticQuoteProvider("ok", 100, testutil.Router),
	)

	q, err := svc.BestQuote(context.Background(), testRequest(), testGate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Source != "ok" {
		t.Errorf("Source = %q, want ok", q.Source)
	}
	if slow.Calls() != 1 || malformed.Calls() != 1 {
		t.Error("each source should be queried exactly once")
	}
}

func TestBestQuote_NoSourcesSucceed(t *testing.T) {
	svc, _ := newService(t,
		failingProvider("a", errors.New("timeout")),
		failingProvider("b", errors.New("bad gateway")),
	)
	_, err := svc.BestQuote(context.Background(), testRequest(), testGate())
	if !errors.Is(err, entity.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestBestQuote_UnauthorizedTargetRejectsWholeCycle(t *testing.T) {
	svc, _ := newService(t,
		testutil.StaticQuoteProvider("honest", 100, testutil.Router),
		testutil.StaticQuoteProvider("spoofed", 1_000_000, testutil.BadTarget),
	)
	q, err := svc.BestQuote(context.Background(), testRequest(), testGate())
	if !errors.Is(err, entity.ErrUnauthorizedTarget) {
		t.Fatalf("expected ErrUnauthorizedTarget, got %v (quote %+v)", err, q)
	}
}

// An unlisted target aborts the cycle even when the same answer would also
// have been excluded as malformed.
func TestBestQuote_UnauthorizedTargetRejectsMalformedQuote(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *entity.Quote)
	}{
		{"zero amount out", func(q *entity.Quote) { q.AmountOut = new(big.Int) }},
		{"mismatched amount in", func(q *entity.Quote) { q.AmountIn = big.NewInt(7) }},
		{"empty call data", func(q *entity.Quote) { q.CallData = nil }},
		{"wrong pair", func(q *entity.Quote) { q.TargetAsset = testutil.USDC }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spoofed := &testutil.MockQuoteProvider{
				NameValue: "spoofed",
				QuoteFn: func(_ context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
					q := testutil.NewQuote("spoofed", req.AmountIn.Int64(), 1_000)
					q.TargetContract = testutil.BadTarget
					tt.mutate(q)
					return q, nil
				},
			}
			svc, _ := newService(t, testutil.StaticQuoteProvider("honest", 900, testutil.Router), spoofed)
			q, err := svc.BestQuote(context.Background(), testRequest(), testGate())
			if !errors.Is(err, entity.ErrUnauthorizedTarget) {
				t.Fatalf("expected ErrUnauthorizedTarget, got %v (quote %+v)", err, q)
			}
		})
	}
}

func TestBestQuote_ZeroPrefixedEmbeddedAddressRejected(t *testing.T) {
	erc20, err := abis.GetERC20ABI()
	if err != nil {
		t.Fatal(err)
	}
	attacker := common.HexToAddress("0x0000BADBADBADBADBADBADBADBADBADBADBADBAD")
	data, err := erc20.Pack("transfer", attacker, big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	p := &testutil.MockQuoteProvider{
		NameValue: "spoofed",
		QuoteFn: func(_ context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
			q := testutil.NewQuote("spoofed", req.AmountIn.Int64(), 1_000)
			q.CallData = data
			return q, nil
		},
	}
	svc, _ := newService(t, p)
	if _, err := svc.BestQuote(context.Background(), testRequest(), testGate()); !errors.Is(err, entity.ErrUnauthorizedTarget) {
		t.Fatalf("expected ErrUnauthorizedTarget, got %v", err)
	}
}

func TestBestQuote_DerivesMinAmountOut(t *testing.T) {
	p := &testutil.MockQuoteProvider{
		NameValue: "nomin",
		QuoteFn: func(_ context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
			q := testutil.NewQuote("", req.AmountIn.Int64(), 10_000)
			q.MinAmountOut = nil
			return q, nil
		},
	}
	svc, _ := newService(t, p)
	q, err := svc.BestQuote(context.Background(), testRequest(), testGate())
	if err != nil {
		t.Fatal(err)
	}
	if q.Source != "nomin" {
		t.Errorf("Source = %q, want provider name", q.Source)
	}
	if q.MinAmountOut.Int64() != 9_950 {
		t.Errorf("MinAmountOut = %s, want 9950 at default 50 bps", q.MinAmountOut)
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(nil, nil, Config{}, nil); err == nil {
		t.Error("expected error with no providers")
	}
	if _, err := NewService([]outbound.QuoteProvider{nil}, nil, Config{}, nil); err == nil {
		t.Error("expected error with nil provider")
	}
}

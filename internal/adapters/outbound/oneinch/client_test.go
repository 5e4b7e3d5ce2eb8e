package oneinch

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/httpclient"
	"github.com/archon-research/dca/internal/testutil"
)

const swapBody = `{
	"dstAmount": "5010",
	"tx": {
		"from": "0x2222222222222222222222222222222222222222",
		"to": "0xDef1C0ded9bec7F1a1670819833240f027b25EfF",
		"data": "0x07ed23790000",
		"value": "0",
		"gas": 0
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		ChainID: 8453,
		HTTP:    httpclient.Config{Timeout: time.Second},
		Logger:  testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func request() entity.QuoteRequest {
	return entity.QuoteRequest{
		SourceAsset: testutil.USDC,
		TargetAsset: testutil.WETH,
		AmountIn:    big.NewInt(10000),
		Account:     testutil.Account,
	}
}

func TestQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap/v6.0/8453/swap" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing bearer token")
		}
		if got := r.URL.Query().Get("slippage"); got != "0.5" {
			t.Errorf("slippage = %s", got)
		}
		w.Write([]byte(swapBody))
	})

	quote, err := client.Quote(context.Background(), request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.AmountOut.Int64() != 5010 {
		t.Errorf("AmountOut = %s", quote.AmountOut)
	}
	if quote.MinAmountOut != nil {
		t.Errorf("MinAmountOut = %s, want nil", quote.MinAmountOut)
	}
	if quote.AmountIn.Int64() != 10000 || quote.TargetContract != testutil.Router {
		t.Errorf("quote = %+v", quote)
	}
}

func TestQuote_DeliversToRecipient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("from") != testutil.Account.Hex() || q.Get("receiver") != testutil.Destination.Hex() {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(swapBody))
	})

	req := request()
	req.Recipient = testutil.Destination
	quote, err := client.Quote(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if quote.Recipient != testutil.Destination {
		t.Errorf("Recipient = %s, want destination", quote.Recipient.Hex())
	}
}

func TestQuote_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", 400, `{"error":"Bad Request","description":"insufficient liquidity","statusCode":400}`, "insufficient liquidity"},
		{"bad amount", 200, strings.Replace(swapBody, `"5010"`, `""`, 1), "invalid dstAmount"},
		{"bad target", 200, strings.Replace(swapBody, `"0xDef1C0ded9bec7F1a1670819833240f027b25EfF"`, `"nope"`, 1), "invalid tx target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := client.Quote(context.Background(), request())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSlippagePercent(t *testing.T) {
	tests := map[int64]string{50: "0.5", 100: "1", 5: "0.05", 125: "1.25"}
	for bps, want := range tests {
		if got := slippagePercent(bps); got != want {
			t.Errorf("slippagePercent(%d) = %s, want %s", bps, got, want)
		}
	}
}

package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/archon-research/dca/internal/pkg/httpclient"
	"github.com/archon-research/dca/internal/testutil"
)

func newTestClient(t *testing.T, pageSize int, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:  server.URL,
		PageSize: pageSize,
		HTTP:     httpclient.Config{Timeout: time.Second},
		Logger:   testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestOrdersByOwner_Pages(t *testing.T) {
	all := []remoteOrder{
		{UID: "0x01", Status: "open", ExecutedSellAmount: "10"},
		{UID: "0x02", Status: "fulfilled", ExecutedSellAmount: "100"},
		{UID: "0x03", Status: "cancelled", ExecutedSellAmount: "0"},
	}
	var requests int
	client := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		requests++
		want := fmt.Sprintf("/api/v1/account/%s/orders", testutil.Owner.Hex())
		if r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := min(offset+limit, len(all))
		json.NewEncoder(w).Encode(all[offset:end])
	})

	orders, err := client.OrdersByOwner(context.Background(), testutil.Owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 3 || requests != 2 {
		t.Fatalf("orders=%d requests=%d, want 3 and 2", len(orders), requests)
	}
	if orders[1].Status != "fulfilled" || orders[1].ExecutedSellAmount.Int64() != 100 {
		t.Errorf("orders[1] = %+v", orders[1])
	}
}

func TestOrdersByOwner_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", 400, `{"errorType":"InvalidAddress","description":"bad owner"}`, "InvalidAddress"},
		{"bad amount", 200, `[{"uid":"0x01","status":"open","executedSellAmount":"x"}]`, "invalid executedSellAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, 10, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := client.OrdersByOwner(context.Background(), testutil.Owner)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

package balance_verifier

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/testutil"
)

func TestVerify(t *testing.T) {
	order := testutil.NewOrder(100, 10, time.Now())

	tests := []struct {
		name     string
		balance  int64
		required int64
		wantOK   bool
	}{
		{name: "exact balance", balance: 10, required: 10, wantOK: true},
		{name: "more than enough", balance: 50, required: 10, wantOK: true},
		{name: "short by one", balance: 9, required: 10, wantOK: false},
		{name: "empty account", balance: 0, required: 10, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(testutil.FixedBalance(tt.balance), testutil.DiscardLogger())
			if err != nil {
				t.Fatal(err)
			}
			ok, available, err := svc.Verify(context.Background(), order, big.NewInt(tt.required))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if available.Int64() != tt.balance {
				t.Errorf("available = %s, want %d", available, tt.balance)
			}
		})
	}
}

func TestVerify_FailsClosed(t *testing.T) {
	reader := &testutil.MockBalanceReader{
		BalanceOfFn: func(context.Context, common.Address, common.Address) (*big.Int, error) {
			return nil, errors.New("rpc unavailable")
		},
	}
	svc, _ := NewService(reader, testutil.DiscardLogger())
	ok, _, err := svc.Verify(context.Background(), testutil.NewOrder(100, 10, time.Now()), big.NewInt(1))
	if err == nil || ok {
		t.Errorf("Verify() = %v, %v; want failure", ok, err)
	}
}

func TestNewService_NilReader(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Error("expected error for nil reader")
	}
}

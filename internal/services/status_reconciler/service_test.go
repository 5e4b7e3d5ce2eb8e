package status_reconciler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/adapters/outbound/memory"
	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/testutil"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func trackedOrder(uid string, owner common.Address) *entity.Order {
	o := testutil.NewOrder(100, 10, now)
	o.Venue = entity.VenueOrderBook
	o.ExternalUID = uid
	o.Owner = owner
	return o
}

func TestMapRemoteStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   entity.OrderStatus
		ok     bool
	}{
		{"open", entity.OrderStatusActive, true},
		{"presignaturePending", entity.OrderStatusActive, true},
		{"fulfilled", entity.OrderStatusCompleted, true},
		{"cancelled", entity.OrderStatusCancelled, true},
		{"expired", entity.OrderStatusExpired, true},
		{"weird", "", false},
	}
	for _, tt := range tests {
		got, ok := MapRemoteStatus(tt.remote)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MapRemoteStatus(%q) = %q, %v", tt.remote, got, tt.ok)
		}
	}
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")

	partial := trackedOrder("uid-partial", testutil.Owner)
	filled := trackedOrder("uid-filled", testutil.Owner)
	missing := trackedOrder("uid-missing", testutil.Owner)
	regressed := trackedOrder("uid-regressed", other)
	regressed.ExecutionsCompleted = 5
	regressed.ExecutedAmount = big.NewInt(50)
	direct := testutil.NewOrder(100, 10, now)
	for _, o := range []*entity.Order{partial, filled, missing, regressed, direct} {
		if err := repo.CreateOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	client := &testutil.MockOrderBookClient{
		OrdersByOwnerFn: func(_ context.Context, owner common.Address) ([]outbound.RemoteOrder, error) {
			if owner == other {
				return []outbound.RemoteOrder{
					{UID: "uid-regressed", Status: "open", ExecutedSellAmount: big.NewInt(20), ExecutionsCompleted: 2},
				}, nil
			}
			return []outbound.RemoteOrder{
				{UID: "uid-partial", Status: "open", ExecutedSellAmount: big.NewInt(30), ExecutionsCompleted: 3},
				{UID: "uid-filled", Status: "fulfilled", ExecutedSellAmount: big.NewInt(100), ExecutionsCompleted: 9},
			}, nil
		},
	}
	svc, err := NewService(repo, client, Config{InterBatchDelay: time.Millisecond, OwnersPerBatch: 1}, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}

	report, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Tracked != 4 || report.Updated != 3 || report.Expired != 1 {
		t.Errorf("report = %+v", report)
	}

	get := func(o *entity.Order) *entity.Order {
		got, err := repo.GetOrder(ctx, o.ID)
		if err != nil {
			t.Fatal(err)
		}
		return got
	}
	if got := get(partial); got.Status != entity.OrderStatusActive || got.ExecutionsCompleted != 3 || got.ExecutedAmount.Int64() != 30 {
		t.Errorf("partial = %s %d/%s", got.Status, got.ExecutionsCompleted, got.ExecutedAmount)
	}
	if got := get(filled); got.Status != entity.OrderStatusCompleted || got.ExecutionsCompleted != 10 {
		t.Errorf("filled = %s %d", got.Status, got.ExecutionsCompleted)
	}
	if got := get(missing); got.Status != entity.OrderStatusExpired {
		t.Errorf("missing = %s, want expired", got.Status)
	}
	if got := get(regressed); got.ExecutionsCompleted != 5 || got.ExecutedAmount.Int64() != 50 {
		t.Errorf("progress must never decrease, got %d/%s", got.ExecutionsCompleted, got.ExecutedAmount)
	}
	if got := get(direct); got.Status != entity.OrderStatusActive {
		t.Error("directly executed orders are not reconciled")
	}

	second, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Tracked != 2 || second.Updated != 0 {
		t.Errorf("second pass should be a no-op over the remaining tracked orders, got %+v", second)
	}
}

func TestRunOnce_OwnerFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")
	a := trackedOrder("uid-a", testutil.Owner)
	b := trackedOrder("uid-b", other)
	for _, o := range []*entity.Order{a, b} {
		if err := repo.CreateOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	client := &testutil.MockOrderBookClient{
		OrdersByOwnerFn: func(_ context.Context, owner common.Address) ([]outbound.RemoteOrder, error) {
			if owner == testutil.Owner {
				return nil, errors.New("429 too many requests")
			}
			return []outbound.RemoteOrder{{UID: "uid-b", Status: "cancelled"}}, nil
		},
	}
	svc, _ := NewService(repo, client, Config{InterBatchDelay: -1}, testutil.DiscardLogger())

	report, err := svc.RunOnce(ctx)
	if err == nil {
		t.Error("expected the failed owner to be reported")
	}
	if report.Failed != 1 || report.Updated != 1 {
		t.Errorf("report = %+v", report)
	}
	if got, _ := repo.GetOrder(ctx, a.ID); got.Status != entity.OrderStatusActive {
		t.Error("an unreachable order book must not expire orders")
	}
	if got, _ := repo.GetOrder(ctx, b.ID); got.Status != entity.OrderStatusCancelled {
		t.Errorf("b = %s, want cancelled", got.Status)
	}
}

func TestRunOnce_StorageFailure(t *testing.T) {
	repo := memory.NewOrderRepository()
	repo.FailWith(errors.New("db down"))
	svc, _ := NewService(repo, &testutil.MockOrderBookClient{}, Config{}, testutil.DiscardLogger())
	if _, err := svc.RunOnce(context.Background()); !entity.IsStorageError(err) {
		t.Errorf("expected storage error, got %v", err)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/inbound"
	"github.com/archon-research/dca/internal/testutil"
	"github.com/archon-research/dca/pkg/dcasdk"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const token = "s3cret"

type mockOrderService struct {
	CreateOrderFn      func(ctx context.Context, req inbound.CreateOrderRequest) (*entity.Order, error)
	GetOrderFn         func(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	ListOrdersFn       func(ctx context.Context, owner common.Address) ([]*entity.Order, error)
	ListExecutionsFn   func(ctx context.Context, id uuid.UUID) ([]*entity.Execution, error)
	CancelOrderFn      func(ctx context.Context, id uuid.UUID, owner common.Address, sweep bool) (*inbound.CancelResult, error)
	PauseOrderFn       func(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error)
	ResumeOrderFn      func(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error)
	ReauthorizeOrderFn func(ctx context.Context, id uuid.UUID, owner common.Address, cred entity.Credential) (*entity.Order, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req inbound.CreateOrderRequest) (*entity.Order, error) {
	return m.CreateOrderFn(ctx, req)
}

func (m *mockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	return m.GetOrderFn(ctx, id)
}

func (m *mockOrderService) ListOrders(ctx context.Context, owner common.Address) ([]*entity.Order, error) {
	return m.ListOrdersFn(ctx, owner)
}

func (m *mockOrderService) ListExecutions(ctx context.Context, id uuid.UUID) ([]*entity.Execution, error) {
	return m.ListExecutionsFn(ctx, id)
}

func (m *mockOrderService) CancelOrder(ctx context.Context, id uuid.UUID, owner common.Address, sweep bool) (*inbound.CancelResult, error) {
	return m.CancelOrderFn(ctx, id, owner, sweep)
}

func (m *mockOrderService) PauseOrder(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error) {
	return m.PauseOrderFn(ctx, id, owner)
}

func (m *mockOrderService) ResumeOrder(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error) {
	return m.ResumeOrderFn(ctx, id, owner)
}

func (m *mockOrderService) ReauthorizeOrder(ctx context.Context, id uuid.UUID, owner common.Address, cred entity.Credential) (*entity.Order, error) {
	return m.ReauthorizeOrderFn(ctx, id, owner, cred)
}

type mockSweeper struct {
	at      time.Time
	SweepFn func(ctx context.Context, now time.Time) (*inbound.SweepResult, error)
}

func (m *mockSweeper) Sweep(ctx context.Context, now time.Time) (*inbound.SweepResult, error) {
	m.at = now
	if m.SweepFn != nil {
		return m.SweepFn(ctx, now)
	}
	return &inbound.SweepResult{StartedAt: now, Due: 2, Claimed: []string{"a"}}, nil
}

func newMux(orders inbound.OrderService, sweeper inbound.Sweeper, manual bool) *http.ServeMux {
	h := NewHandler(orders, sweeper, HandlerConfig{Token: token, ManualSweepEnabled: manual}, testutil.DiscardLogger())
	h.clock = func() time.Time { return now }
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestSweep_RequiresToken(t *testing.T) {
	sweeper := &mockSweeper{}
	mux := newMux(nil, sweeper, false)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/sweep", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if !sweeper.at.Equal(now) {
		t.Errorf("sweep ran at %s, want %s", sweeper.at, now)
	}
}

func TestSweep_Result(t *testing.T) {
	w := do(t, newMux(nil, &mockSweeper{}, false), http.MethodPost, "/v1/sweep", nil, true)
	var result dcasdk.SweepResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Due != 2 || len(result.Claimed) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestSweep_StorageFailure(t *testing.T) {
	sweeper := &mockSweeper{SweepFn: func(context.Context, time.Time) (*inbound.SweepResult, error) {
		return nil, entity.NewStorageError("get due orders", fmt.Errorf("connection refused"))
	}}
	w := do(t, newMux(nil, sweeper, false), http.MethodPost, "/v1/sweep", nil, true)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("connection refused")) {
		t.Error("internal error details leaked")
	}
}

func TestManualSweep(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		w := do(t, newMux(nil, &mockSweeper{}, false), http.MethodPost, "/v1/sweep/manual", nil, false)
		if w.Code == http.StatusOK {
			t.Error("manual sweep must not be reachable when disabled")
		}
	})

	t.Run("runs as of supplied time without token", func(t *testing.T) {
		sweeper := &mockSweeper{}
		at := now.Add(48 * time.Hour)
		w := do(t, newMux(nil, sweeper, true), http.MethodPost, "/v1/sweep/manual", dcasdk.ManualSweepRequest{At: &at}, false)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body)
		}
		if !sweeper.at.Equal(at) {
			t.Errorf("sweep ran at %s, want %s", sweeper.at, at)
		}
	})
}

func TestCreateOrder(t *testing.T) {
	var got inbound.CreateOrderRequest
	orders := &mockOrderService{CreateOrderFn: func(_ context.Context, req inbound.CreateOrderRequest) (*entity.Order, error) {
		got = req
		return testutil.NewOrder(100, 10, now), nil
	}}
	mux := newMux(orders, nil, false)

	body := dcasdk.CreateOrderRequest{
		Owner:           testutil.Owner.Hex(),
		FundingAccount:  testutil.Account.Hex(),
		SourceAsset:     testutil.USDC.Hex(),
		TargetAsset:     testutil.WETH.Hex(),
		TotalAmount:     "100",
		IntervalSeconds: 3600,
		TotalExecutions: 10,
		Credential: dcasdk.Credential{
			KeyID:        "k1",
			BoundAccount: testutil.Account.Hex(),
			Scope: dcasdk.Scope{
				Targets:   []string{testutil.Router.Hex()},
				Selectors: []string{"0x095ea7b3"},
			},
			ValidAfter: now.Add(-time.Hour),
			ValidUntil: now.Add(24 * time.Hour),
		},
	}
	w := do(t, mux, http.MethodPost, "/v1/orders", body, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}

	if got.Interval != time.Hour || got.TotalAmount.Int64() != 100 || got.TotalExecutions != 10 {
		t.Errorf("request = %+v", got)
	}
	if got.Destination != testutil.Account {
		t.Errorf("destination should default to the funding account, got %s", got.Destination.Hex())
	}
	if got.Venue != entity.VenueDirect {
		t.Errorf("venue = %q", got.Venue)
	}
	if len(got.Credential.Scope.Selectors) != 1 || got.Credential.Scope.Selectors[0].String() != "0x095ea7b3" {
		t.Errorf("selectors = %v", got.Credential.Scope.Selectors)
	}

	var order dcasdk.Order
	if err := json.NewDecoder(w.Body).Decode(&order); err != nil {
		t.Fatal(err)
	}
	if order.PerExecutionAmount != "10" || order.Status != "active" {
		t.Errorf("order = %+v", order)
	}
}

func TestCreateOrder_BadInput(t *testing.T) {
	orders := &mockOrderService{CreateOrderFn: func(context.Context, inbound.CreateOrderRequest) (*entity.Order, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	mux := newMux(orders, nil, false)

	tests := []struct {
		name string
		body any
	}{
		{"bad owner", dcasdk.CreateOrderRequest{Owner: "alice"}},
		{"unknown field", map[string]any{"owner": testutil.Owner.Hex(), "bogus": 1}},
		{"bad amount", dcasdk.CreateOrderRequest{
			Owner: testutil.Owner.Hex(), FundingAccount: testutil.Account.Hex(),
			SourceAsset: testutil.USDC.Hex(), TargetAsset: testutil.WETH.Hex(), TotalAmount: "1.5",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, http.MethodPost, "/v1/orders", tt.body, true)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		wantCode string
	}{
		{entity.ErrOrderNotFound, http.StatusNotFound, dcasdk.CodeNotFound},
		{entity.ErrNotOwner, http.StatusForbidden, dcasdk.CodeNotOwner},
		{fmt.Errorf("%w: order is completed", entity.ErrIllegalTransition), http.StatusConflict, dcasdk.CodeConflict},
		{fmt.Errorf("pausing order: %w", entity.ErrConcurrentUpdate), http.StatusConflict, dcasdk.CodeConflict},
		{entity.ErrCredentialExpired, http.StatusUnprocessableEntity, dcasdk.CodeCredentialExpired},
		{fmt.Errorf("boom"), http.StatusInternalServerError, dcasdk.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			orders := &mockOrderService{GetOrderFn: func(context.Context, uuid.UUID) (*entity.Order, error) {
				return nil, tt.err
			}}
			w := do(t, newMux(orders, nil, false), http.MethodGet, "/v1/orders/"+uuid.NewString(), nil, true)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var resp dcasdk.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestGetOrder_InvalidID(t *testing.T) {
	w := do(t, newMux(&mockOrderService{}, nil, false), http.MethodGet, "/v1/orders/not-a-uuid", nil, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	order := testutil.NewOrder(100, 10, now)
	var gotSweep bool
	orders := &mockOrderService{CancelOrderFn: func(_ context.Context, id uuid.UUID, owner common.Address, sweep bool) (*inbound.CancelResult, error) {
		if id != order.ID || owner != testutil.Owner {
			t.Errorf("id=%s owner=%s", id, owner.Hex())
		}
		gotSweep = sweep
		cancelled := *order
		cancelled.Status = entity.OrderStatusCancelled
		return &inbound.CancelResult{Order: &cancelled, SweepTxRef: "0xabc"}, nil
	}}

	w := do(t, newMux(orders, nil, false), http.MethodPost, "/v1/orders/"+order.ID.String()+"/cancel",
		dcasdk.CancelRequest{Owner: testutil.Owner.Hex(), SweepRemainingFunds: true}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp dcasdk.CancelResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !gotSweep || resp.Order.Status != "cancelled" || resp.SweepTxRef != "0xabc" {
		t.Errorf("resp = %+v sweep=%v", resp, gotSweep)
	}
}

func TestPauseResumeAndExecutions(t *testing.T) {
	order := testutil.NewOrder(100, 10, now)
	paused := *order
	paused.StallReason = entity.StallPausedByOwner
	orders := &mockOrderService{
		PauseOrderFn: func(context.Context, uuid.UUID, common.Address) (*entity.Order, error) { return &paused, nil },
		ResumeOrderFn: func(context.Context, uuid.UUID, common.Address) (*entity.Order, error) {
			return order, nil
		},
		ListExecutionsFn: func(context.Context, uuid.UUID) ([]*entity.Execution, error) {
			exec := entity.NewExecution(order.ID, 0, entity.ExecutionKindSwap, entity.ExecutionConfirmed, now)
			exec.AmountIn = big.NewInt(10)
			return []*entity.Execution{exec}, nil
		},
	}
	mux := newMux(orders, nil, false)
	path := "/v1/orders/" + order.ID.String()

	w := do(t, mux, http.MethodPost, path+"/pause", dcasdk.OwnerRequest{Owner: testutil.Owner.Hex()}, true)
	var got dcasdk.Order
	_ = json.NewDecoder(w.Body).Decode(&got)
	if w.Code != http.StatusOK || got.StallReason != "paused_by_owner" {
		t.Errorf("pause: status=%d order=%+v", w.Code, got)
	}

	w = do(t, mux, http.MethodPost, path+"/resume", dcasdk.OwnerRequest{Owner: testutil.Owner.Hex()}, true)
	if w.Code != http.StatusOK {
		t.Errorf("resume: status=%d", w.Code)
	}

	w = do(t, mux, http.MethodGet, path+"/executions", nil, true)
	var executions []dcasdk.Execution
	if err := json.NewDecoder(w.Body).Decode(&executions); err != nil {
		t.Fatal(err)
	}
	if len(executions) != 1 || executions[0].AmountIn != "10" || executions[0].AmountOut != "0" {
		t.Errorf("executions = %+v", executions)
	}
}

func TestRoutesNotRegisteredWithoutServices(t *testing.T) {
	w := do(t, newMux(nil, nil, true), http.MethodPost, "/v1/sweep", nil, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

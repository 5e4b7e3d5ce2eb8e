package execution_recorder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/archon-research/dca/internal/adapters/outbound/memory"
	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/testutil"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *memory.OrderRepository
	events *memory.EventSink
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewOrderRepository()
	events := memory.NewEventSink()
	svc, err := NewService(repo, events, Config{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{repo: repo, events: events, svc: svc}
}

// claimed stores order and returns the claimed working copy.
func (f *fixture) claimed(t *testing.T, order *entity.Order) *entity.Order {
	t.Helper()
	ctx := context.Background()
	if err := f.repo.CreateOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	ok, err := f.repo.ClaimOrder(ctx, order.ID, order.Status, now)
	if err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}
	order.MarkClaimed(now)
	return order
}

func (f *fixture) stored(t *testing.T, order *entity.Order) *entity.Order {
	t.Helper()
	o, err := f.repo.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRecordConfirmed(t *testing.T) {
	f := newFixture(t)
	order := f.claimed(t, testutil.NewOrder(100, 10, now))

	exec, err := f.svc.RecordConfirmed(context.Background(), order, Attempt{
		QuoteSource: "zeroex",
		AmountIn:    big.NewInt(10),
		AmountOut:   big.NewInt(998),
		TxReference: "0xabc",
		Receipt:     &entity.Receipt{GasUsed: 150_000, EffectiveGasPrice: big.NewInt(7), AmountOut: big.NewInt(1001)},
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.AmountOut.Int64() != 1001 {
		t.Errorf("measured output should win over quote, got %s", exec.AmountOut)
	}

	got := f.stored(t, order)
	if got.ExecutionsCompleted != 1 || got.ExecutedAmount.Int64() != 10 || got.Status != entity.OrderStatusActive {
		t.Errorf("stored order = %d/%s/%s", got.ExecutionsCompleted, got.ExecutedAmount, got.Status)
	}
	if !got.NextExecutionAt.Equal(now.Add(time.Hour)) {
		t.Errorf("NextExecutionAt = %s, want %s", got.NextExecutionAt, now.Add(time.Hour))
	}

	events := f.events.ExecutionEvents()
	if len(events) != 1 || events[0].ExecutionStatus != "confirmed" || events[0].AmountOut != "1001" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestRecordConfirmed_FinalCycleCompletes(t *testing.T) {
	f := newFixture(t)
	order := testutil.NewOrder(100, 10, now)
	order.ExecutionsCompleted = 9
	order.ExecutedAmount = big.NewInt(90)
	order = f.claimed(t, order)

	if _, err := f.svc.RecordConfirmed(context.Background(), order, Attempt{AmountIn: big.NewInt(10)}, now); err != nil {
		t.Fatal(err)
	}
	if got := f.stored(t, order); got.Status != entity.OrderStatusCompleted || got.ExecutionsCompleted != 10 {
		t.Errorf("stored order = %s with %d executions", got.Status, got.ExecutionsCompleted)
	}
}

func TestRecordSkipped(t *testing.T) {
	f := newFixture(t)
	order := f.claimed(t, testutil.NewOrder(100, 10, now))

	exec, err := f.svc.RecordSkipped(context.Background(), order, entity.ErrBelowMinimumAmount, now)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != entity.ExecutionConfirmed || exec.AmountOut.Sign() != 0 || exec.Kind != entity.ExecutionKindSkipped {
		t.Errorf("unexpected skipped execution %+v", exec)
	}
	got := f.stored(t, order)
	if got.ExecutionsCompleted != 1 || got.ExecutedAmount.Sign() != 0 {
		t.Errorf("skipped cycle should count without spending, got %d/%s", got.ExecutionsCompleted, got.ExecutedAmount)
	}
	if !got.NextExecutionAt.Equal(now.Add(time.Hour)) {
		t.Errorf("NextExecutionAt = %s, want exactly one interval later", got.NextExecutionAt)
	}
	if got.PerExecutionAmount().Int64() != 11 {
		t.Errorf("unspent amount should roll forward, per-execution = %s", got.PerExecutionAmount())
	}
}

func TestRecordAborted(t *testing.T) {
	tests := []struct {
		name        string
		cause       error
		attempt     Attempt
		priorRevert int
		wantStatus  entity.OrderStatus
		wantStall   entity.StallReason
		wantExec    entity.ExecutionStatus
		wantCode    string
	}{
		{
			name:       "insufficient balance",
			cause:      entity.ErrInsufficientBalance,
			wantStatus: entity.OrderStatusInsufficientBalance,
			wantExec:   entity.ExecutionFailed,
			wantCode:   entity.CodeInsufficientBalance,
		},
		{
			name:       "credential expired stalls",
			cause:      entity.ErrCredentialExpired,
			wantStatus: entity.OrderStatusActive,
			wantStall:  entity.StallCredentialExpired,
			wantExec:   entity.ExecutionFailed,
			wantCode:   entity.CodeCredentialExpired,
		},
		{
			name:       "quote unavailable",
			cause:      fmt.Errorf("no sources: %w", entity.ErrQuoteUnavailable),
			wantStatus: entity.OrderStatusActive,
			wantExec:   entity.ExecutionFailed,
			wantCode:   entity.CodeQuoteUnavailable,
		},
		{
			name:       "timeout after broadcast is pending",
			cause:      entity.ErrSubmissionTimeout,
			attempt:    Attempt{TxReference: "0xabc", AmountIn: big.NewInt(10)},
			wantStatus: entity.OrderStatusActive,
			wantExec:   entity.ExecutionPending,
			wantCode:   entity.CodeSubmissionTimeout,
		},
		{
			name:       "timeout before broadcast is failed",
			cause:      entity.ErrSubmissionTimeout,
			wantStatus: entity.OrderStatusActive,
			wantExec:   entity.ExecutionFailed,
			wantCode:   entity.CodeSubmissionTimeout,
		},
		{
			name:       "first revert stays active",
			cause:      entity.ErrChainRevert,
			wantStatus: entity.OrderStatusActive,
			wantExec:   entity.ExecutionFailed,
			wantCode:   entity.CodeChainRevert,
		},
		{
			name:        "third revert stalls",
			cause:       entity.ErrChainRevert,
			priorRevert: 2,
			wantStatus:  entity.OrderStatusActive,
			wantStall:   entity.StallRepeatedChainRevert,
			wantExec:    entity.ExecutionFailed,
			wantCode:    entity.CodeChainRevert,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := testutil.NewOrder(100, 10, now)
			order.ConsecutiveReverts = tt.priorRevert
			order = f.claimed(t, order)
			nextBefore := order.NextExecutionAt

			exec, err := f.svc.RecordAborted(context.Background(), order, tt.cause, tt.attempt, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exec.Status != tt.wantExec || exec.ErrorCode != tt.wantCode {
				t.Errorf("execution = %s/%s, want %s/%s", exec.Status, exec.ErrorCode, tt.wantExec, tt.wantCode)
			}

			got := f.stored(t, order)
			if got.Status != tt.wantStatus || got.StallReason != tt.wantStall {
				t.Errorf("order = %s/%q, want %s/%q", got.Status, got.StallReason, tt.wantStatus, tt.wantStall)
			}
			if got.ExecutionsCompleted != 0 || !got.NextExecutionAt.Equal(nextBefore) {
				t.Errorf("aborted cycle must not progress: %d, %s", got.ExecutionsCompleted, got.NextExecutionAt)
			}
			if got.ClaimedAt != nil {
				t.Error("claim should be released")
			}
		})
	}
}

func TestRecord_ClaimLost(t *testing.T) {
	f := newFixture(t)
	order := f.claimed(t, testutil.NewOrder(100, 10, now))
	if _, err := f.repo.ReleaseStaleClaims(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.RecordConfirmed(context.Background(), order, Attempt{AmountIn: big.NewInt(10)}, now)
	if !errors.Is(err, entity.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}
	if execs, _ := f.repo.ListExecutions(context.Background(), order.ID); len(execs) != 0 {
		t.Errorf("no execution should be written when the claim is lost, got %d", len(execs))
	}
}

func TestRecord_ReclaimedOrderRejectsOldClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.claimed(t, testutil.NewOrder(100, 10, now))
	if _, err := f.repo.ReleaseStaleClaims(ctx, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	later := now.Add(2 * time.Minute)
	if ok, err := f.repo.ClaimOrder(ctx, stale.ID, entity.OrderStatusActive, later); err != nil || !ok {
		t.Fatalf("re-claim failed: ok=%v err=%v", ok, err)
	}

	_, err := f.svc.RecordConfirmed(ctx, stale, Attempt{AmountIn: big.NewInt(10)}, now)
	if !errors.Is(err, entity.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for the superseded claim, got %v", err)
	}
	if got := f.stored(t, stale); got.Status != entity.OrderStatusExecuting || got.ExecutionsCompleted != 0 {
		t.Errorf("stored order = %s/%d, want executing/0 under the new claim", got.Status, got.ExecutionsCompleted)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	order := testutil.NewOrder(100, 10, now)
	order.Status = entity.OrderStatusInsufficientBalance
	order = f.claimed(t, order)

	if err := f.svc.Release(context.Background(), order, entity.OrderStatusInsufficientBalance); err != nil {
		t.Fatal(err)
	}
	if got := f.stored(t, order); got.Status != entity.OrderStatusInsufficientBalance {
		t.Errorf("status = %s, want insufficient_balance", got.Status)
	}
	if execs, _ := f.repo.ListExecutions(context.Background(), order.ID); len(execs) != 0 {
		t.Errorf("release must not append executions, got %d", len(execs))
	}
}

func TestAppendResolution(t *testing.T) {
	f := newFixture(t)
	order := f.claimed(t, testutil.NewOrder(100, 10, now))
	pending := entity.NewExecution(order.ID, 1, entity.ExecutionKindSwap, entity.ExecutionPending, now.Add(-time.Hour))
	pending.TxReference = "0xdead"
	if err := f.repo.AppendExecution(context.Background(), pending); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.AppendResolution(context.Background(), order, pending, entity.ErrTransactionDropped, now); err != nil {
		t.Fatal(err)
	}
	left, _ := f.repo.PendingExecutions(context.Background(), order.ID)
	if len(left) != 0 {
		t.Errorf("pending execution should be resolved, %d left", len(left))
	}
}

func TestAppendResolution_RevertCeilingStalls(t *testing.T) {
	tests := []struct {
		name        string
		reverts     int
		cause       error
		wantReverts int
		wantStall   entity.StallReason
	}{
		{name: "revert below ceiling", reverts: 0, cause: entity.ErrChainRevert, wantReverts: 1, wantStall: entity.StallNone},
		{name: "revert reaching ceiling", reverts: 2, cause: entity.ErrChainRevert, wantReverts: 3, wantStall: entity.StallRepeatedChainRevert},
		{name: "dropped does not count", reverts: 2, cause: entity.ErrTransactionDropped, wantReverts: 2, wantStall: entity.StallNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := testutil.NewOrder(100, 10, now)
			order.ConsecutiveReverts = tt.reverts
			order = f.claimed(t, order)
			pending := entity.NewExecution(order.ID, 1, entity.ExecutionKindSwap, entity.ExecutionPending, now.Add(-time.Minute))
			pending.TxReference = "0xdead"
			if err := f.repo.AppendExecution(context.Background(), pending); err != nil {
				t.Fatal(err)
			}

			if _, err := f.svc.AppendResolution(context.Background(), order, pending, tt.cause, now); err != nil {
				t.Fatal(err)
			}
			if order.ConsecutiveReverts != tt.wantReverts {
				t.Errorf("consecutiveReverts = %d, want %d", order.ConsecutiveReverts, tt.wantReverts)
			}
			if order.StallReason != tt.wantStall {
				t.Errorf("stallReason = %q, want %q", order.StallReason, tt.wantStall)
			}

			if err := f.svc.Release(context.Background(), order, entity.OrderStatusActive); err != nil {
				t.Fatal(err)
			}
			if got := f.stored(t, order); got.StallReason != tt.wantStall || got.ConsecutiveReverts != tt.wantReverts {
				t.Errorf("stored order = %q/%d, want %q/%d", got.StallReason, got.ConsecutiveReverts, tt.wantStall, tt.wantReverts)
			}
		})
	}
}

//go:build integration

package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archon-research/dca/internal/testutil"
)

func setupLocker(t *testing.T, cfg Config) *AccountLocker {
	t.Helper()
	addr, cleanup := testutil.StartRedis(t)
	t.Cleanup(cleanup)

	cfg.Addr = addr
	locker, err := NewAccountLocker(cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewAccountLocker: %v", err)
	}
	t.Cleanup(func() { locker.Close() })

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		if locker.Ping(ctx) == nil {
			return locker
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("redis not reachable")
	return nil
}

func TestLock_MutualExclusion(t *testing.T) {
	locker := setupLocker(t, Config{RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "signer:k1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max holders = %d, want 1", maxInFlight.Load())
	}
}

func TestLock_ContextCancelled(t *testing.T) {
	locker := setupLocker(t, Config{RetryInterval: 5 * time.Millisecond})

	unlock, err := locker.Lock(context.Background(), "signer:k1")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "signer:k1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestLock_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	locker := setupLocker(t, Config{LeaseTTL: 100 * time.Millisecond, RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	staleUnlock, err := locker.Lock(ctx, "signer:k1")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	unlock, err := locker.Lock(ctx, "signer:k1")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	staleUnlock()

	held, err := locker.client.Exists(ctx, locker.key("signer:k1")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if held != 1 {
		t.Error("stale release removed the new holder's lock")
	}
}

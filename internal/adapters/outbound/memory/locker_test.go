package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAccountLocker_SerializesSameKey(t *testing.T) {
	l := NewAccountLocker()
	unlock, err := l.Lock(context.Background(), "signer:a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "signer:a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected second lock to block until deadline, got %v", err)
	}

	other, err := l.Lock(context.Background(), "signer:b")
	if err != nil {
		t.Fatalf("independent key must not block: %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "signer:a")
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	again()
}

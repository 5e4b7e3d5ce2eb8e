package memory

import (
	"context"
	"sync"

	"github.com/archon-research/dca/internal/ports/outbound"
)

var _ outbound.AccountLocker = (*AccountLocker)(nil)

// AccountLocker serializes submissions per key within a single process.
type AccountLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewAccountLocker creates an in-process locker.
func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[string]chan struct{})}
}

func (l *AccountLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Lock blocks until key is free or ctx is done.
func (l *AccountLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

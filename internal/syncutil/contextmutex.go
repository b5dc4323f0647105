// Package syncutil holds the locking primitive that serializes ledger writes.
package syncutil

import "context"

// ContextMutex is a mutex implemented with a one-slot channel so that a
// waiter can give up when its context ends. The zero value is not usable;
// construct with NewContextMutex.
type ContextMutex struct {
	ch chan struct{}
}

// NewContextMutex returns an unlocked mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex or returns ctx.Err() if the context ends first.
// On success the returned function releases the mutex; it is safe to call
// more than once.
func (m *ContextMutex) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-m.ch:
		released := false
		return func() {
			if released {
				return
			}
			released = true
			m.ch <- struct{}{}
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex only if it is free.
func (m *ContextMutex) TryLock() (func(), bool) {
	select {
	case <-m.ch:
		return func() { m.ch <- struct{}{} }, true
	default:
		return nil, false
	}
}

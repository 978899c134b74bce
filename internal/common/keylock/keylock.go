// Package keylock serializes work per key: one raffle, one user. Work on
// different keys runs in parallel.
package keylock

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// Locker hands out one single-slot semaphore per key. Semaphores live for
// the lifetime of the process; the key space (raffles, users) is bounded
// by the store.
type Locker[K comparable] struct {
	locks *xsync.MapOf[K, chan struct{}]
}

func New[K comparable]() *Locker[K] {
	return &Locker[K]{locks: xsync.NewMapOf[K, chan struct{}]()}
}

func (l *Locker[K]) slot(key K) chan struct{} {
	ch, _ := l.locks.LoadOrCompute(key, func() chan struct{} { return make(chan struct{}, 1) })
	return ch
}

func release(ch chan struct{}) func() {
	return func() { <-ch }
}

// Lock blocks until the key is held and returns the unlock func.
func (l *Locker[K]) Lock(key K) func() {
	ch := l.slot(key)
	ch <- struct{}{}
	return release(ch)
}

// LockContext is Lock that gives up when ctx is done. A waiter that gives
// up leaves nothing behind.
func (l *Locker[K]) LockContext(ctx context.Context, key K) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	default:
	}
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// With runs fn while holding key.
func (l *Locker[K]) With(key K, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}

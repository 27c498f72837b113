// Package lock serializes work on a single key, such as all payment
// operations for one appointment.
package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrLeaseLost   = errors.New("lock lease lost")
)

// Lease is exclusive ownership of one key.
type Lease interface {
	// Release gives the key up. Calling it more than once is harmless.
	Release()
	// Held returns ErrLeaseLost once exclusive ownership can no longer be
	// guaranteed. Any other error means ownership could not be verified.
	Held(ctx context.Context) error
}

// Locker grants exclusive ownership of key until the lease is released.
// Acquire blocks until the lock is free or ctx ends.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Local is an in-process keyed mutex. Entries are dropped once no goroutine
// holds or waits for them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: map[string]*slot{}}
}

func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}

	return &localLease{release: func() {
		<-s.ch
		l.unref(key, s)
	}}, nil
}

type localLease struct {
	once     sync.Once
	released atomic.Bool
	release  func()
}

func (ll *localLease) Release() {
	ll.once.Do(func() {
		ll.released.Store(true)
		ll.release()
	})
}

// Held only fails after Release; an in-process mutex cannot expire.
func (ll *localLease) Held(context.Context) error {
	if ll.released.Load() {
		return ErrLeaseLost
	}
	return nil
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

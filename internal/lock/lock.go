// Package lock provides per-scope mutual exclusion for reconciliation passes.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held")

// Release gives the lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks without blocking.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Wait retries Acquire every interval until the lock is obtained or ctx ends.
func Wait(ctx context.Context, l Locker, key string, interval time.Duration) (Release, error) {
	for {
		release, err := l.Acquire(ctx, key)
		if !errors.Is(err, ErrHeld) {
			return release, err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrHeld, ctx.Err())
		case <-timer.C:
		}
	}
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire takes key or returns ErrHeld.
func (l *Local) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// Held reports whether key is currently taken.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

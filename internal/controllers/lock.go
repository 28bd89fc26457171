package controllers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long a mutation waits for the one in flight
const DefaultLockTimeout = 5 * time.Second

// ErrLockTimeout is returned when a mutation could not start in time
var ErrLockTimeout = errors.New("timed out waiting for in-flight mutation")

// mutationLock admits one mutation at a time. Waiters queue on the semaphore
// and give up after timeout.
type mutationLock struct {
	sem      *semaphore.Weighted
	timeout  time.Duration
	inFlight atomic.Bool
}

func newMutationLock(timeout time.Duration) *mutationLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &mutationLock{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

func (l *mutationLock) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockTimeout
	}
	l.inFlight.Store(true)
	return nil
}

func (l *mutationLock) release() {
	l.inFlight.Store(false)
	l.sem.Release(1)
}

func (l *mutationLock) held() bool {
	return l.inFlight.Load()
}

// Package fsoplock implements the single binary mutex every mutating
// filesystem operation holds for its whole duration: non-blocking
// try-acquire so the caller can report FILEOP_IN_PROGRESS instead of
// stalling behind another mutation, and so usb attach can be refused
// without blocking on it.
package fsoplock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock is a non-blocking mutex built on a weighted semaphore of weight 1.
// TryAcquire already gives the try-acquire semantics §4.6 requires, so
// there's no hand-rolled compare-and-swap loop here.
type Lock struct {
	sem *semaphore.Weighted
}

// New creates an unheld Lock.
func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// TryAcquire attempts to take the lock without blocking. It returns true if
// the lock was acquired; the caller must call Release exactly once if so.
func (l *Lock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Held reports whether the lock is currently held; arbiter.TryRequest uses
// it to refuse a transition while a mutation is in progress. It probes with
// a TryAcquire that it releases at once, so a concurrent TryAcquire can fail
// during that instant.
func (l *Lock) Held() bool {
	if l.sem.TryAcquire(1) {
		l.sem.Release(1)
		return false
	}
	return true
}

// Release releases the lock. Calling Release without a matching successful
// TryAcquire panics, the same contract semaphore.Weighted gives.
func (l *Lock) Release() {
	l.sem.Release(1)
}

// WithLock runs f while holding the lock, returning acquired=false without
// calling f if the lock was already held. ctx is accepted for symmetry with
// the rest of the module's blocking operations but is never waited on: the
// acquire here is always a TryAcquire.
func (l *Lock) WithLock(ctx context.Context, f func() error) (acquired bool, err error) {
	if !l.TryAcquire() {
		return false, nil
	}
	defer l.Release()
	return true, f()
}

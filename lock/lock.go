// Package lock implements the per-object advisory locking described in
// spec.md section 5: an in-process Locker, plus the Provider contract an
// external, database-backed cross-process lock would satisfy.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ocflkit/ocflcore"
)

// DefaultWaitTimeout is the default time an Acquire call will wait for a
// contended object lock before giving up, per spec.md section 5.
const DefaultWaitTimeout = 10 * time.Second

// Provider is the contract the orchestrator depends on for per-object
// locking, regardless of whether the implementation is in-process
// (Locker) or an external, database-backed cross-process lock (spec.md's
// explicit non-goal: the orchestrator only needs the interface).
type Provider interface {
	// Acquire blocks until the lock for objectID is held, ctx is done, or
	// the configured wait timeout elapses, whichever comes first. It
	// returns a release function that must be called exactly once on every
	// successful acquisition.
	Acquire(ctx context.Context, objectID string) (release func(), err error)
}

// Locker is a striped in-process lock keyed by object ID. Each distinct
// object ID is backed by a buffered channel of capacity 1, used as a
// cancelable mutex: sending claims the lock, receiving releases it.
type Locker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem      chan struct{}
	refCount int // protected by Locker.mu
}

// NewLocker returns a Locker with the given wait timeout. A non-positive
// timeout uses DefaultWaitTimeout.
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return &Locker{timeout: timeout, locks: map[string]*entry{}}
}

// Acquire implements Provider.
func (l *Locker) Acquire(ctx context.Context, objectID string) (func(), error) {
	e := l.ref(objectID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return func() { l.release(objectID, e) }, nil
	case <-ctx.Done():
		l.unref(objectID)
		return nil, ocfl.NewError(ocfl.State, "lock.Acquire", ctx.Err())
	case <-timer.C:
		l.unref(objectID)
		return nil, ocfl.NewError(ocfl.ObjectOutOfSync, "lock.Acquire", fmt.Errorf("timed out waiting for object lock: %s", objectID))
	}
}

func (l *Locker) ref(objectID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[objectID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[objectID] = e
	}
	e.refCount++
	return e
}

func (l *Locker) unref(objectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[objectID]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(l.locks, objectID)
	}
}

func (l *Locker) release(objectID string, e *entry) {
	<-e.sem
	l.unref(objectID)
}

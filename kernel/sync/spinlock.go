// Package sync provides the synchronization primitives used by the kernel:
// a busy-waiting spinlock and an interrupt-safe mutex built on top of it.
package sync

import "sync/atomic"

// spinsBeforeYield is the number of failed acquisition attempts after which
// Acquire invokes yieldFn (if set).
const spinsBeforeYield = 64

var (
	// yieldFn is nil in the kernel as there is no scheduler to yield to.
	// Tests substitute runtime.Gosched to avoid starving the go scheduler.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state atomic.Uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); !l.state.CompareAndSwap(0, 1); attempt++ {
		if attempt%spinsBeforeYield == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	l.state.Store(0)
}

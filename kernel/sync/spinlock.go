// Package sync provides synchronization primitives shared by the kernel
// core's hot paths (scheduler run-queues, IPC mailboxes): a spinlock. The
// teacher's version backs Acquire with an assembly PAUSE-loop primitive;
// running hosted rather than freestanding, this module has no assembly
// backend, so Acquire spins over a compare-and-swap and yields the Go
// scheduler after a bounded number of failed attempts instead.
package sync

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is substituted in tests to avoid depending on the real Go
	// scheduler's fairness under -race.
	yieldFn = runtime.Gosched
)

// spinAttemptsBeforeYield bounds how many bare CAS attempts Acquire makes
// before giving the Go scheduler a chance to run the lock holder.
const spinAttemptsBeforeYield = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for {
		for i := 0; i < spinAttemptsBeforeYield; i++ {
			if atomic.CompareAndSwapUint32(&l.state, 0, 1) {
				return
			}
		}
		yieldFn()
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

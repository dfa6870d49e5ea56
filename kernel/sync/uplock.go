// Package sync provides the exclusive-access lock used by kernel singletons
// on a uniprocessor.
package sync

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"sync/atomic"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errReentrantAcquire = &kernel.Error{Module: "sync", Message: "lock acquired while already held"}
)

// UPLock guards kernel state on a single hart. Only one flow ever executes at
// a time, so finding the lock held means the current flow is trying to take
// it a second time (for example from a trap handler that interrupted the
// holder). Such an acquisition can never succeed and is reported as a kernel
// panic instead of spinning forever.
type UPLock struct {
	state uint32
}

// Acquire takes the lock. Acquiring a lock that is already held is a kernel
// panic.
func (l *UPLock) Acquire() {
	if !l.TryToAcquire() {
		panicFn(errReentrantAcquire)
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *UPLock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock. Calling Release while the lock is free has
// no effect.
func (l *UPLock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Held returns true while the lock is taken.
func (l *UPLock) Held() bool {
	return atomic.LoadUint32(&l.state) == 1
}

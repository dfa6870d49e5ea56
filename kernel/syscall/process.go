package syscall

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
)

// sysExit terminates the calling task. It does not return to the caller.
func (t *Table) sysExit(args Args) (int64, *kernel.Error) {
	kfmt.Printf("[kernel] Application exited with code %d\n", int64(args[0]))
	t.sched.ExitCurrentAndRunNext()
	panicFn(errExitReturned)
	return 0, nil
}

// sysYield gives up the rest of the time slice.
func (t *Table) sysYield(_ Args) (int64, *kernel.Error) {
	t.sched.SuspendCurrentAndRunNext()
	return 0, nil
}

// sysGetTime returns the current time in milliseconds.
func (t *Table) sysGetTime(_ Args) (int64, *kernel.Error) {
	return int64(t.clock.TimeMS()), nil
}

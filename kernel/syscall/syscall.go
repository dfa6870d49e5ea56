// Package syscall implements the system call table reached from the user
// trap path.
package syscall

import (
	"io"
	"rvos/kernel"
	"rvos/kernel/kfmt"
)

// System call numbers.
const (
	SysWrite   = 64
	SysExit    = 93
	SysYield   = 124
	SysGetTime = 169
)

// MaxArgs is the number of argument registers (a0..a2) passed to a handler.
const MaxArgs = 3

// Args holds the raw argument registers of a system call.
type Args [MaxArgs]uint64

// Handler implements one system call. A non-nil error terminates the calling
// task.
type Handler func(args Args) (int64, *kernel.Error)

// Scheduler is the part of the task manager used by system calls.
type Scheduler interface {
	CurrentTask() int
	SuspendCurrentAndRunNext()
	ExitCurrentAndRunNext()
}

// AddressSpace describes the memory a task may hand to the kernel.
type AddressSpace interface {
	// UserStack returns the top and size of the user stack of task id.
	UserStack(id int) (top, size uint64)

	// AppRange returns the [low, high) bounds of the image of task id.
	AppRange(id int) (low, high uint64)

	// ReadUser copies length bytes starting at addr.
	ReadUser(addr, length uint64) []byte
}

// Clock reads the hart time.
type Clock interface {
	TimeMS() uint64
}

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// ErrUnsupported is returned for unknown system call numbers.
	ErrUnsupported = &kernel.Error{Module: "syscall", Message: "unsupported syscall"}

	errExitReturned = &kernel.Error{Module: "syscall", Message: "unreachable in sys_exit"}
)

// Table routes system call numbers to handlers.
type Table struct {
	handlers map[uint64]Handler

	sched Scheduler
	space AddressSpace
	clock Clock
	out   io.Writer
}

// New returns a table with the write, exit, yield and get_time calls
// registered. Accepted write payloads are emitted to out.
func New(sched Scheduler, space AddressSpace, clock Clock, out io.Writer) *Table {
	t := &Table{
		handlers: make(map[uint64]Handler),
		sched:    sched,
		space:    space,
		clock:    clock,
		out:      out,
	}

	t.Register(SysWrite, t.sysWrite)
	t.Register(SysExit, t.sysExit)
	t.Register(SysYield, t.sysYield)
	t.Register(SysGetTime, t.sysGetTime)

	return t
}

// Register installs h as the handler for id, replacing any previous one.
func (t *Table) Register(id uint64, h Handler) {
	t.handlers[id] = h
}

// Dispatch invokes the handler registered for id.
func (t *Table) Dispatch(id uint64, args Args) (int64, *kernel.Error) {
	h, ok := t.handlers[id]
	if !ok {
		return 0, ErrUnsupported
	}
	return h(args)
}

// Package kmain boots the kernel on a board and hands the hart over to the
// first task.
package kmain

import (
	"io"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
	"rvos/kernel/syscall"
	"rvos/kernel/task"
	"rvos/kernel/timer"
	"rvos/kernel/trap"
)

// Board is everything the kernel needs from the machine it boots on.
type Board interface {
	cpu.Hart
	timer.Hardware
	task.Loader
	task.Switcher
	task.Power
	syscall.AddressSpace

	// Console is the character output sink.
	Console() io.Writer

	// ClockFreq is the frequency of the time counter in Hz.
	ClockFreq() uint64

	// TicksPerSec is the number of timer interrupts per second.
	TicksPerSec() uint64

	// KernelInterrupts returns true if the timer may interrupt the kernel
	// while it handles a user trap.
	KernelInterrupts() bool
}

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kernel is a booted kernel instance.
type Kernel struct {
	Timer      *timer.Timer
	Tasks      *task.Manager
	Syscalls   *syscall.Table
	Dispatcher *trap.Dispatcher
}

// Boot attaches the kernel to b, builds the task table from the loaded
// programs, installs the trap vector and arms the first timer deadline.
func Boot(b Board) (*Kernel, *kernel.Error) {
	cpu.Attach(b)
	kfmt.SetOutputSink(b.Console())

	banner := &kfmt.PrefixWriter{Sink: b.Console(), Prefix: []byte("[kernel] ")}
	kfmt.Fprintf(banner, "Hello, world!\n")
	kfmt.Fprintf(banner, "num_app = %d\n", b.NumApp())
	for id := 0; id < b.NumApp(); id++ {
		low, high := b.AppRange(id)
		kfmt.Fprintf(banner, "app_%d [%#x, %#x)\n", id, low, high)
	}

	k := &Kernel{Timer: timer.New(b, b.ClockFreq(), b.TicksPerSec())}

	var err *kernel.Error
	if k.Tasks, err = task.NewManager(b, b, k.Timer, b); err != nil {
		return nil, err
	}

	k.Syscalls = syscall.New(k.Tasks, b, k.Timer, b.Console())
	k.Dispatcher = trap.NewDispatcher(k.Tasks, k.Syscalls, k.Timer)
	k.Dispatcher.AllowKernelInterrupts(b.KernelInterrupts())
	k.Dispatcher.Init()
	k.Timer.SetNextTrigger()

	return k, nil
}

// Run starts the first task. It is not expected to return.
func (k *Kernel) Run() {
	k.Tasks.RunFirstTask()

	panicFn(errKmainReturned)
}

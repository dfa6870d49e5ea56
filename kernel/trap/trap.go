// Package trap classifies every trap delivered to the kernel and reacts to
// it: system calls are dispatched, faulting tasks are killed, timer ticks
// preempt the running task and anything unexpected halts the kernel.
package trap

import (
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/gate"
	"rvos/kernel/kfmt"
	"rvos/kernel/syscall"
)

// Manager is the part of the task manager driven by the trap path.
type Manager interface {
	UpdateCurrentTaskUserTime()
	UpdateCurrentTaskKernelTime()
	SuspendCurrentAndRunNext()
	ExitCurrentAndRunNext()
	MarkKernelInterruptTriggered()
}

// Syscalls routes a system call number to its handler.
type Syscalls interface {
	Dispatch(id uint64, args syscall.Args) (int64, *kernel.Error)
}

// Rearmer arms the next timer interrupt.
type Rearmer interface {
	SetNextTrigger()
}

var (
	// The following functions are mocked by tests.
	panicFn      = kfmt.Panic
	readScauseFn = func() gate.Cause { return gate.Cause(cpu.ReadCSR(cpu.Scause)) }
	readStvalFn  = func() uint64 { return cpu.ReadCSR(cpu.Stval) }

	errUnsupportedTrap = &kernel.Error{Module: "trap", Message: "unsupported trap"}
	errKernelFault     = &kernel.Error{Module: "trap", Message: "page fault in kernel"}
	errKernelTrap      = &kernel.Error{Module: "trap", Message: "unknown kernel exception or interrupt"}
)

// Dispatcher is the kernel trap vector.
type Dispatcher struct {
	mgr   Manager
	sys   Syscalls
	timer Rearmer

	// kernelInterrupts re-enables supervisor interrupts while a user trap is
	// being handled so the timer can fire inside the kernel.
	kernelInterrupts bool
}

// NewDispatcher returns a dispatcher that drives mgr, sys and timer.
func NewDispatcher(mgr Manager, sys Syscalls, timer Rearmer) *Dispatcher {
	return &Dispatcher{mgr: mgr, sys: sys, timer: timer}
}

// AllowKernelInterrupts makes the dispatcher accept timer interrupts while it
// handles user traps.
func (d *Dispatcher) AllowKernelInterrupts(allow bool) {
	d.kernelInterrupts = allow
}

// Init points the trap vector at the dispatcher and unmasks the supervisor
// timer interrupt.
func (d *Dispatcher) Init() {
	gate.Install(d.Handle)
	cpu.EnableTimerInterrupt()
}

// Handle processes the trap described by scause, stval and the saved frame.
// The origin of the trap is decided once from the saved SPP bit.
func (d *Dispatcher) Handle(regs *gate.Registers) *gate.Registers {
	cause, stval := readScauseFn(), readStvalFn()

	if gate.OriginOf(regs.Sstatus) == gate.FromKernel {
		return d.handleKernelTrap(regs, cause, stval)
	}
	return d.handleUserTrap(regs, cause, stval)
}

func (d *Dispatcher) handleUserTrap(regs *gate.Registers, cause gate.Cause, stval uint64) *gate.Registers {
	d.mgr.UpdateCurrentTaskUserTime()

	if d.kernelInterrupts {
		cpu.SetCSRBits(cpu.Sstatus, cpu.SstatusSIE)
	}

	switch cause {
	case gate.UserEnvCall:
		regs.Sepc += gate.InstructionWidth
		id := regs.SyscallID()
		ret, err := d.sys.Dispatch(id, syscall.Args{regs.Arg(0), regs.Arg(1), regs.Arg(2)})
		if err != nil {
			kfmt.Printf("[kernel] %s (syscall %d) in application, kernel killed it.\n", err.Message, id)
			d.mgr.ExitCurrentAndRunNext()
			break
		}
		regs.SetReturn(ret)
	case gate.StoreFault, gate.StorePageFault:
		kfmt.Printf("[kernel] PageFault in application, bad addr = %#x, bad instruction = %#x, kernel killed it.\n", stval, regs.Sepc)
		d.mgr.ExitCurrentAndRunNext()
	case gate.IllegalInstruction:
		kfmt.Printf("[kernel] IllegalInstruction in application, kernel killed it.\n")
		d.mgr.ExitCurrentAndRunNext()
	case gate.SupervisorTimer:
		d.timer.SetNextTrigger()
		d.mgr.SuspendCurrentAndRunNext()
	default:
		kfmt.Printf("Unsupported trap %s, stval = %#x!\n", cause, stval)
		regs.DumpTo(kfmt.GetOutputSink())
		panicFn(errUnsupportedTrap)
	}

	if d.kernelInterrupts {
		cpu.ClearCSRBits(cpu.Sstatus, cpu.SstatusSIE)
	}

	d.mgr.UpdateCurrentTaskKernelTime()
	return regs
}

// handleKernelTrap never schedules: the interrupted kernel flow resumes as
// soon as it returns.
func (d *Dispatcher) handleKernelTrap(regs *gate.Registers, cause gate.Cause, stval uint64) *gate.Registers {
	switch cause {
	case gate.SupervisorTimer:
		kfmt.Printf("[kernel] Kernel Interrupt: from time!\n")
		d.mgr.MarkKernelInterruptTriggered()
		d.timer.SetNextTrigger()
	case gate.StoreFault, gate.StorePageFault:
		kfmt.Printf("[kernel] PageFault in kernel, bad addr = %#x, bad instruction = %#x, kernel killed.\n", stval, regs.Sepc)
		panicFn(errKernelFault)
	default:
		kfmt.Printf("[kernel] %s in kernel, stval = %#x\n", cause, stval)
		panicFn(errKernelTrap)
	}
	return regs
}

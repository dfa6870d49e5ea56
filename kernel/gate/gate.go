// Package gate defines the trap frame saved by the trap-entry stub and the
// single trap vector that routes every trap to the kernel.
package gate

import (
	"io"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
)

// Register indices into Registers.X following the RISC-V calling convention.
const (
	RA = 1
	SP = 2
	S0 = 8 // frame pointer
	A0 = 10
	A1 = 11
	A2 = 12
	A7 = 17
)

// InstructionWidth is the size of the ecall instruction; the saved program
// counter is advanced by this amount when a system call completes.
const InstructionWidth = 4

// Registers contains a snapshot of the user register file taken by the
// trap-entry stub together with the status bits needed to return.
type Registers struct {
	X [32]uint64

	// Sstatus is the value of sstatus at trap time. Its SPP bit records the
	// privilege level the trap was taken from.
	Sstatus uint64

	// Sepc is the address of the instruction that trapped.
	Sepc uint64
}

// SyscallID returns the system call number passed in a7.
func (r *Registers) SyscallID() uint64 {
	return r.X[A7]
}

// Arg returns the i-th system call argument (a0 + i).
func (r *Registers) Arg(i int) uint64 {
	return r.X[A0+i]
}

// SetReturn stores a signed system call result into a0.
func (r *Registers) SetReturn(v int64) {
	r.X[A0] = uint64(v)
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	for i := 0; i < len(r.X); i += 2 {
		kfmt.Fprintf(w, "x%-2d = %016x x%-2d = %016x\n", i, r.X[i], i+1, r.X[i+1])
	}
	kfmt.Fprintf(w, "sstatus = %016x sepc = %016x\n", r.Sstatus, r.Sepc)
}

// Origin identifies the privilege level a trap was taken from.
type Origin uint8

const (
	// FromUser marks a trap raised while a user program was running.
	FromUser Origin = iota

	// FromKernel marks a trap raised while the kernel itself was running.
	FromKernel
)

func (o Origin) String() string {
	if o == FromKernel {
		return "kernel"
	}
	return "user"
}

// OriginOf decodes the trap origin from a saved sstatus value.
func OriginOf(sstatus uint64) Origin {
	if sstatus&cpu.SstatusSPP != 0 {
		return FromKernel
	}
	return FromUser
}

// Handler processes a trap. The returned frame is the one restored when the
// trap returns.
type Handler func(*Registers) *Registers

var (
	vector Handler

	errNoVector = &kernel.Error{Module: "gate", Message: "trap taken with no vector installed"}
)

// Install points the trap vector (stvec) at h.
func Install(h Handler) {
	vector = h
}

// Installed returns true if a trap vector is present.
func Installed() bool {
	return vector != nil
}

// Enter is invoked by the trap-entry stub once the interrupted register file
// has been saved into regs. The scause, stval and sstatus registers must
// already describe the trap.
func Enter(regs *Registers) *Registers {
	if vector == nil {
		kfmt.Panic(errNoVector)
		return regs
	}
	return vector(regs)
}

// Package cpu exposes the privileged operations that the kernel needs from
// the RV64 hart it runs on. The hart itself is provided by the board via
// Attach; the kernel only ever talks to it through the functions below.
package cpu

import "rvos/kernel"

// CSR identifies a supervisor control and status register.
type CSR uint16

// Supervisor CSR numbers.
const (
	Sstatus = CSR(0x100)
	Sie     = CSR(0x104)
	Stvec   = CSR(0x105)
	Sepc    = CSR(0x141)
	Scause  = CSR(0x142)
	Stval   = CSR(0x143)
	Sip     = CSR(0x144)
)

// sstatus bits.
const (
	// SstatusSIE enables interrupts while the hart runs in supervisor mode.
	SstatusSIE = uint64(1 << 1)

	// SstatusSPIE holds the value of SIE before the last trap.
	SstatusSPIE = uint64(1 << 5)

	// SstatusSPP records the privilege level the hart trapped from: 0 for
	// user mode and 1 for supervisor mode.
	SstatusSPP = uint64(1 << 8)
)

// SieSTIE enables the supervisor timer interrupt source.
const SieSTIE = uint64(1 << 5)

// Hart is implemented by the processor the kernel is attached to.
type Hart interface {
	ReadCSR(CSR) uint64
	WriteCSR(CSR, uint64)

	// Halt stops instruction execution on the hart. It does not return.
	Halt()
}

var (
	hart Hart

	// ErrHalted is raised by Halt when no hart is attached.
	ErrHalted = &kernel.Error{Module: "cpu", Message: "hart halted"}
)

// Attach connects the kernel to h. Passing nil detaches the current hart.
func Attach(h Hart) {
	hart = h
}

// ReadCSR returns the value of the requested register or 0 if no hart is
// attached.
func ReadCSR(c CSR) uint64 {
	if hart == nil {
		return 0
	}
	return hart.ReadCSR(c)
}

// WriteCSR stores v into the requested register.
func WriteCSR(c CSR, v uint64) {
	if hart == nil {
		return
	}
	hart.WriteCSR(c, v)
}

// SetCSRBits sets the bits in mask.
func SetCSRBits(c CSR, mask uint64) {
	WriteCSR(c, ReadCSR(c)|mask)
}

// ClearCSRBits clears the bits in mask.
func ClearCSRBits(c CSR, mask uint64) {
	WriteCSR(c, ReadCSR(c)&^mask)
}

// EnableTimerInterrupt unmasks the supervisor timer interrupt source.
func EnableTimerInterrupt() {
	SetCSRBits(Sie, SieSTIE)
}

// Halt stops instruction execution. Without an attached hart the calling flow
// is unwound with a panic carrying ErrHalted.
func Halt() {
	if hart != nil {
		hart.Halt()
	}
	panic(ErrHalted)
}

package machine

import (
	"math"
	"rvos/kernel/cpu"
	"rvos/kernel/gate"
)

type privilege uint8

const (
	userMode privilege = iota
	supervisorMode
)

func (p privilege) String() string {
	if p == supervisorMode {
		return "S"
	}
	return "U"
}

// sipSTIP is the pending bit of the supervisor timer interrupt.
const sipSTIP = uint64(1 << 5)

// hart is a single RV64 hart reduced to what the kernel can observe: the
// supervisor CSR file, the current privilege level and the machine timer.
type hart struct {
	csr  [4096]uint64
	mode privilege

	mtime    uint64
	mtimecmp uint64

	// kernelStep is added to mtime whenever the kernel reads it.
	kernelStep uint64

	// kernelPC is the sepc reported for interrupts taken in supervisor
	// mode.
	kernelPC uint64

	traps map[gate.Cause]int
}

func newHart(kernelStep, kernelPC uint64) *hart {
	return &hart{
		mode:       supervisorMode,
		mtimecmp:   math.MaxUint64,
		kernelStep: kernelStep,
		kernelPC:   kernelPC,
		traps:      make(map[gate.Cause]int),
	}
}

func (h *hart) readCSR(c cpu.CSR) uint64 {
	if c == cpu.Sip {
		if h.timerPending() {
			return h.csr[c] | sipSTIP
		}
		return h.csr[c] &^ sipSTIP
	}
	return h.csr[c]
}

func (h *hart) writeCSR(c cpu.CSR, v uint64) {
	h.csr[c] = v
}

// readTime returns the time counter. Reads performed by the kernel take time
// and may deliver a pending timer interrupt if supervisor interrupts are
// enabled.
func (h *hart) readTime() uint64 {
	if h.mode == supervisorMode {
		h.mtime += h.kernelStep
		if h.kernelTimerDeliverable() {
			h.takeKernelTimer()
		}
	}
	return h.mtime
}

func (h *hart) setTimer(deadline uint64) {
	h.mtimecmp = deadline
}

// advance moves the time counter forward by ticks.
func (h *hart) advance(ticks uint64) {
	h.mtime += ticks
}

// untilDeadline returns the number of ticks before the timer fires or
// math.MaxUint64 if no deadline is armed.
func (h *hart) untilDeadline() uint64 {
	switch {
	case h.mtimecmp == math.MaxUint64:
		return math.MaxUint64
	case h.mtime >= h.mtimecmp:
		return 0
	default:
		return h.mtimecmp - h.mtime
	}
}

func (h *hart) timerPending() bool {
	return h.mtime >= h.mtimecmp
}

func (h *hart) timerEnabled() bool {
	return h.csr[cpu.Sie]&cpu.SieSTIE != 0
}

// userTimerDeliverable returns true if a timer interrupt must be taken before
// the next user instruction. Supervisor interrupts are always enabled while
// the hart runs in user mode.
func (h *hart) userTimerDeliverable() bool {
	return h.mode == userMode && h.timerEnabled() && h.timerPending()
}

func (h *hart) kernelTimerDeliverable() bool {
	return h.mode == supervisorMode &&
		h.csr[cpu.Sstatus]&cpu.SstatusSIE != 0 &&
		h.timerEnabled() &&
		h.timerPending()
}

// takeKernelTimer delivers a timer interrupt to the kernel while it runs. The
// trap CSRs describing the trap being handled are preserved across it.
func (h *hart) takeKernelTimer() {
	scause, stval, sepc := h.csr[cpu.Scause], h.csr[cpu.Stval], h.csr[cpu.Sepc]

	h.trap(gate.SupervisorTimer, 0, &gate.Registers{Sepc: h.kernelPC})

	h.csr[cpu.Scause], h.csr[cpu.Stval], h.csr[cpu.Sepc] = scause, stval, sepc
}

// trap enters the supervisor through the trap vector and returns the frame
// restored by sret.
func (h *hart) trap(cause gate.Cause, stval uint64, regs *gate.Registers) *gate.Registers {
	h.traps[cause]++

	status := h.csr[cpu.Sstatus] &^ (cpu.SstatusSPP | cpu.SstatusSPIE)
	if status&cpu.SstatusSIE != 0 {
		status |= cpu.SstatusSPIE
	}
	status &^= cpu.SstatusSIE
	if h.mode == supervisorMode {
		status |= cpu.SstatusSPP
	}

	h.csr[cpu.Sstatus] = status
	h.csr[cpu.Scause] = uint64(cause)
	h.csr[cpu.Stval] = stval
	h.csr[cpu.Sepc] = regs.Sepc
	h.mode = supervisorMode
	regs.Sstatus = status

	ret := gate.Enter(regs)
	h.sret(ret.Sstatus)
	return ret
}

// sret returns to the privilege level recorded in status.
func (h *hart) sret(status uint64) {
	if status&cpu.SstatusSPP != 0 {
		h.mode = supervisorMode
	} else {
		h.mode = userMode
	}

	status &^= cpu.SstatusSIE | cpu.SstatusSPP
	if status&cpu.SstatusSPIE != 0 {
		status |= cpu.SstatusSIE
	}
	h.csr[cpu.Sstatus] = status | cpu.SstatusSPIE
}

// enterUser drops to user mode at the start of a program.
func (h *hart) enterUser() {
	h.sret(cpu.SstatusSPIE)
}

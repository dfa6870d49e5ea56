package gate

import "strconv"

// Cause is the value of the scause register. The most significant bit is set
// for interrupts; the remaining bits hold the exception or interrupt code.
type Cause uint64

const interruptBit = Cause(1 << 63)

const (
	// InstructionMisaligned occurs when a branch or jump targets an address
	// that is not aligned to an instruction boundary.
	InstructionMisaligned = Cause(0)

	// InstructionFault occurs when an instruction fetch fails a physical
	// memory protection check.
	InstructionFault = Cause(1)

	// IllegalInstruction occurs when the hart decodes an invalid opcode or
	// when user code executes a privileged instruction.
	IllegalInstruction = Cause(2)

	// Breakpoint is raised by the ebreak instruction.
	Breakpoint = Cause(3)

	// LoadFault occurs when a load fails a physical memory protection check.
	LoadFault = Cause(5)

	// StoreFault occurs when a store fails a physical memory protection
	// check.
	StoreFault = Cause(7)

	// UserEnvCall is raised by an ecall instruction executed in user mode.
	UserEnvCall = Cause(8)

	// InstructionPageFault occurs when an instruction fetch hits an invalid
	// page table entry.
	InstructionPageFault = Cause(12)

	// LoadPageFault occurs when a load hits an invalid page table entry.
	LoadPageFault = Cause(13)

	// StorePageFault occurs when a store hits an invalid or read-only page
	// table entry.
	StorePageFault = Cause(15)

	// SupervisorSoft is a supervisor software interrupt.
	SupervisorSoft = interruptBit | Cause(1)

	// SupervisorTimer fires when the time counter passes the armed deadline.
	SupervisorTimer = interruptBit | Cause(5)

	// SupervisorExternal is raised by the platform interrupt controller.
	SupervisorExternal = interruptBit | Cause(9)
)

var causeNames = map[Cause]string{
	InstructionMisaligned: "InstructionMisaligned",
	InstructionFault:      "InstructionFault",
	IllegalInstruction:    "IllegalInstruction",
	Breakpoint:            "Breakpoint",
	LoadFault:             "LoadFault",
	StoreFault:            "StoreFault",
	UserEnvCall:           "UserEnvCall",
	InstructionPageFault:  "InstructionPageFault",
	LoadPageFault:         "LoadPageFault",
	StorePageFault:        "StorePageFault",
	SupervisorSoft:        "SupervisorSoft",
	SupervisorTimer:       "SupervisorTimer",
	SupervisorExternal:    "SupervisorExternal",
}

// IsInterrupt returns true if c describes an asynchronous interrupt.
func (c Cause) IsInterrupt() bool {
	return c&interruptBit != 0
}

// Code returns the exception or interrupt code without the interrupt bit.
func (c Cause) Code() uint64 {
	return uint64(c &^ interruptBit)
}

// String returns the name of the cause.
func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	if c.IsInterrupt() {
		return "Interrupt(" + strconv.FormatUint(c.Code(), 10) + ")"
	}
	return "Exception(" + strconv.FormatUint(c.Code(), 10) + ")"
}

package machine

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"

	"rvos/kernel/gate"
	"rvos/kernel/kfmt"
	"rvos/kernel/mem"
	"rvos/kernel/syscall"
)

// User is the user-mode view of a running program: its registers, its stack
// and image windows and the instructions it can execute.
type User struct {
	b  *Board
	id int

	regs gate.Registers
	pc   uint64

	// brk is the next free byte of the image data area.
	brk uint64
}

func newUser(b *Board, id int) *User {
	img := b.mem.images[id]
	u := &User{
		b:   b,
		id:  id,
		pc:  img.base,
		brk: img.base + codeSize,
	}
	// The entry frame occupies the top word of the stack.
	u.regs.X[gate.SP] = b.mem.stacks[id].end() - uint64(mem.WordSize)
	return u
}

// ID returns the id of the task running the program.
func (u *User) ID() int {
	return u.id
}

// PC returns the address of the next instruction.
func (u *User) PC() uint64 {
	return u.pc
}

// SP returns the stack pointer.
func (u *User) SP() uint64 {
	return u.regs.X[gate.SP]
}

// StackWindow returns the [low, high) bounds of the user stack.
func (u *User) StackWindow() (uint64, uint64) {
	s := u.b.mem.stacks[u.id]
	return s.base, s.end()
}

// ImageWindow returns the [low, high) bounds of the program image.
func (u *User) ImageWindow() (uint64, uint64) {
	img := u.b.mem.images[u.id]
	return img.base, img.end()
}

// step retires one instruction. A pending timer interrupt is taken before
// the instruction executes.
func (u *User) step() {
	select {
	case <-u.b.core.Off():
		runtime.Goexit()
	default:
	}

	u.regs.Sepc = u.pc
	if u.b.hart.userTimerDeliverable() {
		u.trap(gate.SupervisorTimer, 0)
	}

	img := u.b.mem.images[u.id]
	u.pc += gate.InstructionWidth
	if u.pc >= img.base+codeSize {
		u.pc = img.base
	}
}

func (u *User) trap(cause gate.Cause, stval uint64) {
	u.b.userTrap(u, cause, stval)
	u.pc = u.regs.Sepc
}

// Syscall executes ecall with the supplied number and arguments and returns
// the value left in a0.
func (u *User) Syscall(id uint64, args ...uint64) int64 {
	u.step()
	u.pc = u.regs.Sepc

	u.regs.X[gate.A7] = id
	for i := 0; i < syscall.MaxArgs; i++ {
		var v uint64
		if i < len(args) {
			v = args[i]
		}
		u.regs.X[gate.A0+i] = v
	}

	u.trap(gate.UserEnvCall, 0)
	return int64(u.regs.X[gate.A0])
}

// Write copies p onto the stack and writes it to fd.
func (u *User) Write(fd uint64, p []byte) int64 {
	sp := u.SP()
	addr := u.Push(p)
	ret := u.WriteAt(fd, addr, uint64(len(p)))
	u.regs.X[gate.SP] = sp
	return ret
}

// WriteAt writes length bytes starting at addr to fd.
func (u *User) WriteAt(fd, addr, length uint64) int64 {
	return u.Syscall(syscall.SysWrite, fd, addr, length)
}

// Print writes s to stdout.
func (u *User) Print(s string) int64 {
	return u.Write(syscall.FDStdout, []byte(s))
}

// Printf formats according to format and writes the result to stdout.
func (u *User) Printf(format string, args ...interface{}) int64 {
	return u.Print(fmt.Sprintf(format, args...))
}

// Exit terminates the program with code. It does not return.
func (u *User) Exit(code int) {
	u.Syscall(syscall.SysExit, uint64(int64(code)))
	kfmt.Panic(errExitReturned)
}

// Yield gives up the rest of the time slice.
func (u *User) Yield() int64 {
	return u.Syscall(syscall.SysYield)
}

// GetTime returns the time in milliseconds.
func (u *User) GetTime() int64 {
	return u.Syscall(syscall.SysGetTime)
}

// Compute spends us microseconds running user instructions. Timer interrupts
// are taken as their deadlines pass.
func (u *User) Compute(us uint64) {
	ticks := u.b.cfg.usToTicks(us)
	for ticks > 0 {
		u.step()

		chunk := ticks
		if until := u.b.hart.untilDeadline(); until != math.MaxUint64 && until > 0 && until < chunk {
			chunk = until
		}
		u.b.hart.advance(chunk)
		ticks -= chunk
	}
}

// Store writes v at addr. Stores outside the program's own windows raise a
// store fault.
func (u *User) Store(addr uint64, v byte) {
	u.step()
	if !u.owns(addr, 1) || !u.b.mem.write(addr, []byte{v}) {
		u.trap(gate.StoreFault, addr)
	}
}

// Load reads the 64-bit little-endian word at addr. Loads outside the
// program's own windows raise a load fault.
func (u *User) Load(addr uint64) uint64 {
	u.step()
	if !u.owns(addr, uint64(mem.WordSize)) {
		u.trap(gate.LoadFault, addr)
		return 0
	}
	return binary.LittleEndian.Uint64(u.b.mem.read(addr, uint64(mem.WordSize)))
}

// FramePointer returns the frame pointer (s0).
func (u *User) FramePointer() uint64 {
	return u.regs.X[gate.S0]
}

// Call runs fn in a new stack frame. The prologue saves the return address at
// fp-8 and the caller's frame pointer at fp-16, so the frames form a chain
// that ends at a zero frame pointer.
func (u *User) Call(fn func()) {
	const frameSize = 2 * uint64(mem.WordSize)

	sp, fp, ra := u.SP(), u.FramePointer(), u.regs.X[gate.RA]

	var frame [frameSize]byte
	binary.LittleEndian.PutUint64(frame[0:], fp)
	binary.LittleEndian.PutUint64(frame[8:], u.pc+gate.InstructionWidth)
	u.regs.X[gate.RA] = u.pc + gate.InstructionWidth
	u.regs.X[gate.S0] = u.Push(frame[:]) + frameSize

	fn()

	u.regs.X[gate.SP] = sp
	u.regs.X[gate.S0] = fp
	u.regs.X[gate.RA] = ra
}

// Illegal executes an instruction user mode is not allowed to run.
func (u *User) Illegal() {
	u.step()
	u.trap(gate.IllegalInstruction, 0)
}

// Breakpoint executes ebreak.
func (u *User) Breakpoint() {
	u.step()
	u.trap(gate.Breakpoint, 0)
}

// Push copies p onto the stack and returns its address. Overflowing the
// stack raises a store fault.
func (u *User) Push(p []byte) uint64 {
	size := uint64(mem.Size(len(p)).AlignUp(mem.WordSize))
	low, _ := u.StackWindow()

	sp := u.SP() - size
	if u.SP() < low+size {
		u.step()
		u.trap(gate.StoreFault, u.SP()-size)
		return sp
	}

	for i, v := range p {
		u.Store(sp+uint64(i), v)
	}
	u.regs.X[gate.SP] = sp
	return sp
}

// Static copies p into the image data area and returns its address.
// Exhausting the image raises a store fault.
func (u *User) Static(p []byte) uint64 {
	addr := u.brk
	for i, v := range p {
		u.Store(addr+uint64(i), v)
	}
	u.brk += uint64(mem.Size(len(p)).AlignUp(mem.WordSize))
	return addr
}

func (u *User) owns(addr, length uint64) bool {
	return u.b.mem.stacks[u.id].holds(addr, length) || u.b.mem.images[u.id].holds(addr, length)
}

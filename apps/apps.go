// Package apps contains the demo programs that can be loaded on the board.
package apps

import (
	"fmt"
	"sort"

	"rvos/kernel/syscall"
	"rvos/machine"
)

var registry = map[string]machine.Program{
	"hello":      Hello,
	"power3":     Power(3),
	"power5":     Power(5),
	"power7":     Power(7),
	"yield":      Yield,
	"float":      Float,
	"ftrace":     Ftrace,
	"sleep":      Sleep,
	"storefault": StoreFault,
	"illegal":    Illegal,
	"badfd":      BadFD,
	"overflow":   Overflow,
}

// Lookup returns the program registered as name.
func Lookup(name string) (machine.Program, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns the sorted list of program names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps program names to programs.
func Resolve(names []string) ([]machine.Program, error) {
	programs := make([]machine.Program, 0, len(names))
	for _, name := range names {
		p, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown app %q", name)
		}
		programs = append(programs, p)
	}
	return programs, nil
}

// Hello prints a greeting.
func Hello(u *machine.User) {
	u.Print("Hello, world!\n")
}

// Power returns a program computing p^200000 modulo 998244353 in a ring of
// 100 partial results.
func Power(p uint64) machine.Program {
	const (
		ringLen = 100
		iter    = 200000
		step    = 10000
		mod     = 998244353
	)

	return func(u *machine.User) {
		var (
			s   [ringLen]uint64
			cur int
		)
		s[cur] = 1
		for i := 1; i <= iter; i++ {
			next := (cur + 1) % ringLen
			s[next] = s[cur] * p % mod
			cur = next
			if i%step == 0 {
				u.Compute(1000)
				u.Printf("power_%d [%d/%d]\n", p, i, iter)
			}
		}
		u.Printf("%d^%d = %d(MOD %d)\n", p, iter, s[cur], mod)
		u.Printf("Test power_%d OK!\n", p)
	}
}

// Yield interleaves its output with the other programs by giving up the hart
// after every line.
func Yield(u *machine.User) {
	const width = 5

	u.Printf("Hello, I am process %d.\n", u.ID())
	for i := 0; i < width; i++ {
		u.Printf("process %d yield %d\n", u.ID(), i)
		u.Yield()
	}
	u.Printf("Test yield of process %d OK!\n", u.ID())
}

// Float accumulates a floating point sum.
func Float(u *machine.User) {
	a, b, c := 1.0, 1.0, 0.0
	for i := 0; i < 500; i++ {
		c = a + b + c
		u.Printf("c = %v\n", c)
	}
}

// Ftrace calls three nested functions and walks the frame pointer chain from
// the innermost one, printing every saved return address and frame pointer.
func Ftrace(u *machine.User) {
	u.Call(func() {
		u.Print("====== Stack trace from chain ======\n\n")
		u.Call(func() { // f1
			u.Call(func() { // f2
				u.Call(func() { // f3
					u.Call(func() { showFuncTrace(u) })
				})
			})
		})
	})
}

func showFuncTrace(u *machine.User) {
	for fp := u.FramePointer(); fp != 0; {
		ra := u.Load(fp - 8)
		oldFP := u.Load(fp - 16)

		u.Printf("ra = %x\n", ra)
		u.Printf("old sp = %x\n", oldFP)
		u.Print("\n")
		fp = oldFP
	}
}

// Sleep waits for 100ms of wall time, giving up the hart while it waits.
func Sleep(u *machine.User) {
	const wait = 100

	current := u.GetTime()
	for u.GetTime() < current+wait {
		u.Compute(500)
		u.Yield()
	}
	u.Printf("Test sleep OK! slept at least %dms\n", wait)
}

// StoreFault writes to address 0. The kernel kills it.
func StoreFault(u *machine.User) {
	u.Print("Into Test store_fault, we will insert an invalid store operation...\n")
	u.Print("Kernel should kill this application!\n")
	u.Store(0, 0)
	u.Print("store_fault survived!\n")
}

// Illegal executes a privileged instruction in user mode. The kernel kills
// it.
func Illegal(u *machine.User) {
	u.Print("Try to execute privileged instruction in U Mode\n")
	u.Print("Kernel should kill this application!\n")
	u.Illegal()
	u.Print("illegal survived!\n")
}

// BadFD writes to a descriptor other than stdout.
func BadFD(u *machine.User) {
	ret := u.Write(2, []byte("this line must not be printed\n"))
	u.Printf("write to fd 2 returned %d\n", ret)
	if ret == -1 {
		u.Print("Test badfd OK!\n")
	}
}

// Overflow hands the kernel buffers that do not fit in its windows.
func Overflow(u *machine.User) {
	stackLow, stackHigh := u.StackWindow()
	_, imgHigh := u.ImageWindow()

	specs := []struct {
		name          string
		start, length uint64
	}{
		{"null", 0, 16},
		{"below stack", stackLow - 8, 16},
		{"past stack", stackHigh - 8, 16},
		{"past image", imgHigh - 8, 16},
		{"whole space", 0, ^uint64(0)},
	}

	ok := true
	for _, spec := range specs {
		if ret := u.WriteAt(syscall.FDStdout, spec.start, spec.length); ret != -1 {
			u.Printf("%s: write returned %d\n", spec.name, ret)
			ok = false
		}
	}
	if ok {
		u.Print("Test overflow OK!\n")
	}
}

package syscall

import (
	"bytes"
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"strings"
	"testing"
)

const (
	stackTop  = 0x80602000
	stackSize = 0x2000
	appLow    = 0x80400000
	appHigh   = 0x80420000
)

type mockScheduler struct {
	current   int
	suspended int
	exited    int
}

func (s *mockScheduler) CurrentTask() int           { return s.current }
func (s *mockScheduler) SuspendCurrentAndRunNext() { s.suspended++ }
func (s *mockScheduler) ExitCurrentAndRunNext()    { s.exited++ }

// mockSpace backs every address with the same byte pattern: the byte at addr
// is data[addr-base].
type mockSpace struct {
	base uint64
	data []byte
	ids  []int
}

func (s *mockSpace) UserStack(id int) (uint64, uint64) {
	s.ids = append(s.ids, id)
	return stackTop, stackSize
}

func (s *mockSpace) AppRange(id int) (uint64, uint64) {
	return appLow, appHigh
}

func (s *mockSpace) ReadUser(addr, length uint64) []byte {
	if addr < s.base || addr+length > s.base+uint64(len(s.data)) {
		return nil
	}
	off := addr - s.base
	return append([]byte(nil), s.data[off:off+length]...)
}

type mockClock uint64

func (c mockClock) TimeMS() uint64 { return uint64(c) }

func TestWindowHolds(t *testing.T) {
	w := Window{Low: 0x1000, High: 0x2000}

	specs := []struct {
		start, length uint64
		exp           bool
	}{
		{0x1000, 0, true},
		{0x1000, 0x10, true},
		{0x1ff0, 0x0f, true},
		// ends exactly at the upper bound
		{0x1ff0, 0x10, false},
		{0x1000, 0x1000, false},
		// straddles the lower bound
		{0x0ff0, 0x20, false},
		// straddles the upper bound
		{0x1ff0, 0x20, false},
		{0x2000, 0, false},
		{0x0800, 0x10, false},
		// wraps around the address space
		{0x1800, ^uint64(0), false},
	}

	for specIndex, spec := range specs {
		if got := w.Holds(spec.start, spec.length); got != spec.exp {
			t.Errorf("[spec %d] expected Holds(%#x, %#x) to return %t; got %t", specIndex, spec.start, spec.length, spec.exp, got)
		}
	}
}

func TestCheckWrite(t *testing.T) {
	var (
		stack = Window{Low: stackTop - stackSize, High: stackTop}
		image = Window{Low: appLow, High: appHigh}
	)

	specs := []struct {
		fd, start, length uint64
		exp               bool
	}{
		// fully inside the stack window
		{FDStdout, stackTop - 0x100, 0x20, true},
		// fully inside the image window
		{FDStdout, appLow + 0x40, 0x100, true},
		// straddles the bottom of the stack
		{FDStdout, stackTop - stackSize - 4, 8, false},
		// straddles the top of the image
		{FDStdout, appHigh - 4, 8, false},
		// starts in the image and ends in the stack
		{FDStdout, appHigh - 4, stackTop - appHigh, false},
		// in neither window
		{FDStdout, 0x1000, 4, false},
		// non-stdout descriptors are always rejected
		{0, stackTop - 0x100, 0x20, false},
		{2, stackTop - 0x100, 0x20, false},
		{2, appLow + 0x40, 0x100, false},
	}

	for specIndex, spec := range specs {
		if got := CheckWrite(spec.fd, spec.start, spec.length, stack, image); got != spec.exp {
			t.Errorf("[spec %d] expected CheckWrite to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func newTestTable(data []byte, base uint64) (*Table, *mockScheduler, *mockSpace, *bytes.Buffer) {
	var (
		sched = &mockScheduler{current: 3}
		space = &mockSpace{base: base, data: data}
		out   bytes.Buffer
	)
	return New(sched, space, mockClock(1234), &out), sched, space, &out
}

func TestSysWrite(t *testing.T) {
	payload := []byte("hello from the user stack\n")
	base := uint64(stackTop - 0x200)

	specs := []struct {
		descr  string
		args   Args
		expRet int64
		expErr *kernel.Error
		expOut string
	}{
		{
			"stdout buffer in stack window",
			Args{FDStdout, base, uint64(len(payload))},
			int64(len(payload)),
			nil,
			string(payload),
		},
		{
			"stderr is rejected",
			Args{2, base, uint64(len(payload))},
			-1,
			nil,
			"",
		},
		{
			"buffer outside every window",
			Args{FDStdout, 0x1000, 4},
			-1,
			nil,
			"",
		},
		{
			"buffer straddles the stack top",
			Args{FDStdout, stackTop - 4, 8},
			-1,
			nil,
			"",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			tbl, _, space, out := newTestTable(payload, base)

			ret, err := tbl.Dispatch(SysWrite, spec.args)
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			if ret != spec.expRet {
				t.Fatalf("expected return value %d; got %d", spec.expRet, ret)
			}
			if got := out.String(); got != spec.expOut {
				t.Fatalf("expected output %q; got %q", spec.expOut, got)
			}
			if len(space.ids) != 0 && space.ids[0] != 3 {
				t.Fatalf("expected windows of the current task to be checked; got task %d", space.ids[0])
			}
		})
	}
}

func TestSysWriteNonText(t *testing.T) {
	base := uint64(appLow + 0x100)
	tbl, _, _, out := newTestTable([]byte{0xff, 0xfe, 'o', 'k'}, base)

	ret, err := tbl.Dispatch(SysWrite, Args{FDStdout, base, 4})
	if err != ErrNonText {
		t.Fatalf("expected ErrNonText; got %v (ret %d)", err, ret)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing to be emitted; got %q", out.String())
	}
}

func TestSysExit(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
		kfmt.SetOutputSink(nil)
	}()

	var (
		console bytes.Buffer
		panics  []interface{}
	)
	kfmt.SetOutputSink(&console)
	panicFn = func(e interface{}) { panics = append(panics, e) }

	tbl, sched, _, _ := newTestTable(nil, 0)
	_, err := tbl.Dispatch(SysExit, Args{uint64(0xffffffffffffffff)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sched.exited != 1 {
		t.Fatalf("expected task to be exited once; got %d", sched.exited)
	}
	if len(panics) != 1 || panics[0] != errExitReturned {
		t.Fatalf("expected a return from exit to panic; got %v", panics)
	}
	if !strings.Contains(console.String(), "[kernel] Application exited with code -1") {
		t.Fatalf("expected exit code to be logged; got %q", console.String())
	}
}

func TestSysYieldAndGetTime(t *testing.T) {
	tbl, sched, _, _ := newTestTable(nil, 0)

	if ret, err := tbl.Dispatch(SysYield, Args{}); ret != 0 || err != nil {
		t.Fatalf("expected yield to return 0, nil; got %d, %v", ret, err)
	}
	if sched.suspended != 1 {
		t.Fatalf("expected yield to suspend the current task; got %d", sched.suspended)
	}

	if ret, err := tbl.Dispatch(SysGetTime, Args{}); ret != 1234 || err != nil {
		t.Fatalf("expected get_time to return 1234, nil; got %d, %v", ret, err)
	}
}

func TestDispatchUnknownAndRegister(t *testing.T) {
	tbl, _, _, _ := newTestTable(nil, 0)

	if _, err := tbl.Dispatch(410, Args{}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported; got %v", err)
	}

	var got Args
	tbl.Register(410, func(args Args) (int64, *kernel.Error) {
		got = args
		return 42, nil
	})

	ret, err := tbl.Dispatch(410, Args{1, 2, 3})
	if ret != 42 || err != nil {
		t.Fatalf("expected registered handler to return 42, nil; got %d, %v", ret, err)
	}
	if got != (Args{1, 2, 3}) {
		t.Fatalf("expected handler to receive the dispatch arguments; got %v", got)
	}
}

package task

import (
	"bytes"
	"rvos/kernel/ctxsw"
	"rvos/kernel/kfmt"
	"strings"
	"testing"
)

type mockLoader struct {
	core     *ctxsw.Core
	contexts []*ctxsw.Context
}

func newMockLoader(n int) *mockLoader {
	l := &mockLoader{core: ctxsw.NewCore()}
	for i := 0; i < n; i++ {
		l.contexts = append(l.contexts, l.core.Blank())
	}
	return l
}

func (l *mockLoader) NumApp() int                       { return len(l.contexts) }
func (l *mockLoader) InitContext(id int) *ctxsw.Context { return l.contexts[id] }

// mockSwitcher records every switch and returns immediately as if the saved
// flow had been resumed right away.
type mockSwitcher struct {
	clock    *mockClock
	cost     uint64
	switches [][2]*ctxsw.Context
}

func (s *mockSwitcher) Blank() *ctxsw.Context { return &ctxsw.Context{} }
func (s *mockSwitcher) Switch(save, resume *ctxsw.Context) {
	s.switches = append(s.switches, [2]*ctxsw.Context{save, resume})
	if s.clock != nil {
		s.clock.us += s.cost
	}
}

type mockClock struct {
	ms, us uint64
}

func (c *mockClock) TimeMS() uint64 { return c.ms }
func (c *mockClock) TimeUS() uint64 { return c.us }

type mockPower struct {
	calls   int
	failure bool
}

func (p *mockPower) Shutdown(failure bool) {
	p.calls++
	p.failure = failure
}

type fixture struct {
	loader *mockLoader
	sw     *mockSwitcher
	clock  *mockClock
	power  *mockPower
	mgr    *Manager
	out    bytes.Buffer
	panics []interface{}
}

func setup(t *testing.T, numApp int) *fixture {
	f := &fixture{
		loader: newMockLoader(numApp),
		clock:  &mockClock{},
		power:  &mockPower{},
	}
	f.sw = &mockSwitcher{clock: f.clock}

	var err error
	if f.mgr, err = newManagerForTest(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kfmt.SetOutputSink(&f.out)
	panicFn = func(e interface{}) { f.panics = append(f.panics, e) }
	t.Cleanup(func() {
		kfmt.SetOutputSink(nil)
		panicFn = kfmt.Panic
		f.loader.core.PowerOff()
	})

	return f
}

func newManagerForTest(f *fixture) (*Manager, error) {
	mgr, err := NewManager(f.loader, f.sw, f.clock, f.power)
	if err != nil {
		return nil, err
	}
	return mgr, nil
}

func TestNewManager(t *testing.T) {
	specs := []struct {
		numApp int
		expErr error
	}{
		{0, errNoApps},
		{MaxAppNum + 1, errTooManyApps},
		{1, nil},
		{MaxAppNum, nil},
	}

	for specIndex, spec := range specs {
		loader := newMockLoader(spec.numApp)
		mgr, err := NewManager(loader, &mockSwitcher{}, &mockClock{}, &mockPower{})
		loader.core.PowerOff()

		if spec.expErr != nil {
			if err != spec.expErr {
				t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if mgr.NumApp() != spec.numApp {
			t.Errorf("[spec %d] expected %d apps; got %d", specIndex, spec.numApp, mgr.NumApp())
		}

		for id, info := range mgr.Tasks() {
			if info.Status != Ready {
				t.Errorf("[spec %d] expected task %d to be Ready; got %s", specIndex, id, info.Status)
			}
		}
	}
}

func TestRunFirstTask(t *testing.T) {
	f := setup(t, 3)
	f.clock.ms = 7

	f.mgr.RunFirstTask()

	if got := f.mgr.CurrentTask(); got != 0 {
		t.Fatalf("expected task 0 to be current; got %d", got)
	}

	var running int
	for _, info := range f.mgr.Tasks() {
		if info.Status == Running {
			running++
		}
	}
	if running != 1 || f.mgr.Task(0).Status != Running {
		t.Fatalf("expected exactly task 0 to be Running; got %v", f.mgr.Tasks())
	}

	if len(f.sw.switches) != 1 || f.sw.switches[0][1] != f.loader.contexts[0] {
		t.Fatal("expected a single switch into the context of task 0")
	}

	if len(f.panics) != 1 || f.panics[0] != errRunFirstTaskReturned {
		t.Fatalf("expected a return from the first switch to panic; got %v", f.panics)
	}

	if stats := f.mgr.Stats(); stats.BootTimeStamp != 7 || stats.SystemTimeStamp != 7 {
		t.Fatalf("expected clocks to start at 7ms; got %+v", stats)
	}
}

func TestRoundRobin(t *testing.T) {
	const numApp = 4
	f := setup(t, numApp)
	f.mgr.RunFirstTask()

	var order []int
	for sweep := 0; sweep < 2; sweep++ {
		for i := 0; i < numApp; i++ {
			f.mgr.SuspendCurrentAndRunNext()
			order = append(order, f.mgr.CurrentTask())
		}
	}

	exp := []int{1, 2, 3, 0, 1, 2, 3, 0}
	for i := range exp {
		if order[i] != exp[i] {
			t.Fatalf("expected scheduling order %v; got %v", exp, order)
		}
	}

	// switch 0 is the one performed by RunFirstTask
	for i, sw := range f.sw.switches[1:] {
		from, to := f.loader.contexts[i%numApp], f.loader.contexts[(i+1)%numApp]
		if sw[0] != from || sw[1] != to {
			t.Fatalf("[switch %d] expected to save task %d and resume task %d", i, i%numApp, (i+1)%numApp)
		}
	}
}

func TestExitedIsAbsorbing(t *testing.T) {
	f := setup(t, 3)
	f.mgr.RunFirstTask()

	// 0 -> 1, then task 1 dies
	f.mgr.SuspendCurrentAndRunNext()
	f.mgr.ExitCurrentAndRunNext()

	if got := f.mgr.Task(1).Status; got != Exited {
		t.Fatalf("expected task 1 to be Exited; got %s", got)
	}

	var order []int
	order = append(order, f.mgr.CurrentTask())
	for i := 0; i < 5; i++ {
		f.mgr.SuspendCurrentAndRunNext()
		order = append(order, f.mgr.CurrentTask())
	}

	exp := []int{2, 0, 2, 0, 2, 0}
	for i := range exp {
		if order[i] != exp[i] {
			t.Fatalf("expected scheduling order %v; got %v", exp, order)
		}
	}

	if got := f.mgr.Task(1).Status; got != Exited {
		t.Fatalf("expected task 1 to remain Exited; got %s", got)
	}
}

func TestShutdownWhenAllExited(t *testing.T) {
	f := setup(t, 2)
	f.mgr.RunFirstTask()

	f.mgr.ExitCurrentAndRunNext()
	if f.power.calls != 0 {
		t.Fatal("expected no shutdown while a task is still Ready")
	}
	if got := f.mgr.CurrentTask(); got != 1 {
		t.Fatalf("expected task 1 to run; got %d", got)
	}

	switches := len(f.sw.switches)
	f.mgr.ExitCurrentAndRunNext()

	if f.power.calls != 1 || f.power.failure {
		t.Fatalf("expected exactly one successful shutdown; got %d calls (failure=%t)", f.power.calls, f.power.failure)
	}
	if len(f.sw.switches) != switches {
		t.Fatal("expected no switch once every task exited")
	}

	// A stray reschedule after power off neither switches nor powers off again
	f.mgr.runNextTask()
	if f.power.calls != 1 || len(f.sw.switches) != switches {
		t.Fatal("expected no scheduling after shutdown")
	}

	out := f.out.String()
	for _, exp := range []string{
		"[kernel] task_0 exited!",
		"[kernel] Run task_1",
		"[kernel] task_1 kernel time: 0, user time: 0",
		"All applications completed!",
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected console output to contain %q; got:\n%s", exp, out)
		}
	}
}

func TestSingleTaskSuspendResumesItself(t *testing.T) {
	f := setup(t, 1)
	f.mgr.RunFirstTask()

	f.mgr.SuspendCurrentAndRunNext()

	if got := f.mgr.Task(0).Status; got != Running {
		t.Fatalf("expected task 0 to be Running again; got %s", got)
	}

	last := f.sw.switches[len(f.sw.switches)-1]
	if last[0] != f.loader.contexts[0] || last[1] != f.loader.contexts[0] {
		t.Fatal("expected the only task to be switched into itself")
	}
}

func TestTimeAccounting(t *testing.T) {
	f := setup(t, 2)
	f.clock.ms = 100
	f.mgr.RunFirstTask()

	// task 0 runs 30ms in user mode, then gets preempted
	f.clock.ms = 130
	f.mgr.UpdateCurrentTaskUserTime()
	f.mgr.SuspendCurrentAndRunNext()

	// task 1 resumes inside its own trap handler and returns to user mode
	f.clock.ms = 135
	f.mgr.UpdateCurrentTaskKernelTime()
	f.clock.ms = 150
	f.mgr.UpdateCurrentTaskUserTime()
	f.clock.ms = 152
	f.mgr.UpdateCurrentTaskKernelTime()

	specs := []struct {
		id             int
		kernel, user   uint64
		expectedStatus Status
	}{
		{0, 0, 30, Ready},
		{1, 7, 15, Running},
	}

	var total uint64
	for _, spec := range specs {
		info := f.mgr.Task(spec.id)
		if info.KernelTime != spec.kernel || info.UserTime != spec.user {
			t.Errorf("[task %d] expected kernel/user time %d/%d; got %d/%d", spec.id, spec.kernel, spec.user, info.KernelTime, info.UserTime)
		}
		if info.Status != spec.expectedStatus {
			t.Errorf("[task %d] expected status %s; got %s", spec.id, spec.expectedStatus, info.Status)
		}
		total += info.KernelTime + info.UserTime
	}

	stats := f.mgr.Stats()
	if elapsed := stats.SystemTimeStamp - stats.BootTimeStamp; total != elapsed {
		t.Fatalf("expected accounted time %d to equal elapsed time %d", total, elapsed)
	}
}

func TestPerTaskTimeConservation(t *testing.T) {
	type step struct {
		ms uint64
		op string
	}

	specs := []struct {
		numApp int
		steps  []step
		// intervals lists the [from, to) spans during which each task was
		// the current one, from its first run to its exit.
		intervals [][][2]uint64
	}{
		{
			1,
			[]step{
				{5, "user"}, {6, "kernel"},
				{9, "user"}, {9, "suspend"}, {11, "kernel"},
				{20, "user"}, {20, "exit"},
			},
			[][][2]uint64{{{0, 20}}},
		},
		{
			2,
			[]step{
				{110, "user"}, {112, "kernel"},
				{125, "user"}, {125, "suspend"},
				{140, "user"}, {141, "kernel"},
				{150, "user"}, {150, "exit"},
				{152, "kernel"},
				{160, "user"}, {160, "exit"},
			},
			[][][2]uint64{
				{{100, 125}, {150, 160}},
				{{125, 150}},
			},
		},
	}

	for specIndex, spec := range specs {
		f := setup(t, spec.numApp)
		f.clock.ms = spec.intervals[0][0][0]
		f.mgr.RunFirstTask()

		for _, st := range spec.steps {
			f.clock.ms = st.ms
			switch st.op {
			case "user":
				f.mgr.UpdateCurrentTaskUserTime()
			case "kernel":
				f.mgr.UpdateCurrentTaskKernelTime()
			case "suspend":
				f.mgr.SuspendCurrentAndRunNext()
			case "exit":
				f.mgr.ExitCurrentAndRunNext()
			}
		}

		if f.power.calls != 1 {
			t.Errorf("[spec %d] expected exactly one shutdown; got %d", specIndex, f.power.calls)
		}

		for id, spans := range spec.intervals {
			var wall uint64
			for _, span := range spans {
				wall += span[1] - span[0]
			}

			info := f.mgr.Task(id)
			if info.Status != Exited {
				t.Errorf("[spec %d] expected task %d to be Exited; got %s", specIndex, id, info.Status)
			}
			if got := info.KernelTime + info.UserTime; got != wall {
				t.Errorf("[spec %d] expected task %d kernel+user time (%d+%d) to equal its running time %d", specIndex, id, info.KernelTime, info.UserTime, wall)
			}
		}
	}
}

func TestSwitchCost(t *testing.T) {
	f := setup(t, 2)
	f.sw.cost = 3
	f.mgr.RunFirstTask()

	f.mgr.SuspendCurrentAndRunNext()
	f.mgr.SuspendCurrentAndRunNext()

	// RunFirstTask never measures its switch
	if got := f.mgr.Stats().SwitchTotalTime; got != 6 {
		t.Fatalf("expected total switch time of 6us; got %d", got)
	}

	if !strings.Contains(f.out.String(), "[kernel] Switch task_0, cost = 3 us") {
		t.Fatalf("expected switch cost to be logged; got:\n%s", f.out.String())
	}
}

func TestKernelInterruptFlag(t *testing.T) {
	f := setup(t, 1)

	if f.mgr.CheckKernelInterrupt() {
		t.Fatal("expected kernel interrupt flag to start cleared")
	}

	// the flag must be settable while the task lock is held
	f.mgr.lock.Acquire()
	f.mgr.MarkKernelInterruptTriggered()
	f.mgr.lock.Release()

	if !f.mgr.CheckKernelInterrupt() {
		t.Fatal("expected kernel interrupt flag to be set")
	}
	if len(f.panics) != 0 {
		t.Fatalf("unexpected panics: %v", f.panics)
	}
}

func TestSnapshot(t *testing.T) {
	f := setup(t, 2)
	f.clock.ms = 5
	f.mgr.RunFirstTask()
	f.clock.ms = 9
	f.mgr.UpdateCurrentTaskUserTime()

	infos, stats, ok := f.mgr.Snapshot()
	if !ok {
		t.Fatal("expected snapshot to succeed while the lock is free")
	}
	if len(infos) != 2 || infos[0].UserTime != 4 || infos[0].Status != Running || infos[1].Status != Ready {
		t.Fatalf("unexpected task snapshot: %+v", infos)
	}
	if stats.BootTimeStamp != 5 || stats.SystemTimeStamp != 9 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	f.mgr.lock.Acquire()
	defer f.mgr.lock.Release()
	if _, _, ok := f.mgr.Snapshot(); ok {
		t.Fatal("expected snapshot to fail while the lock is held")
	}
	// only the one raised when RunFirstTask returned
	if len(f.panics) != 1 {
		t.Fatalf("unexpected panics: %v", f.panics)
	}
}

func TestStatusString(t *testing.T) {
	specs := []struct {
		status Status
		exp    string
	}{
		{UnInit, "UnInit"},
		{Ready, "Ready"},
		{Running, "Running"},
		{Exited, "Exited"},
		{Status(42), "Unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.status.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

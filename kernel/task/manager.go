// Package task implements the task manager: the scheduler that owns every
// task control block, performs every context switch and accounts the time
// each task spends in user and kernel mode.
package task

import (
	"rvos/kernel"
	"rvos/kernel/ctxsw"
	"rvos/kernel/kfmt"
	"rvos/kernel/sync"
	"sync/atomic"
)

// MaxAppNum is the capacity of the task table.
const MaxAppNum = 16

// Loader provides the statically loaded programs.
type Loader interface {
	// NumApp returns the number of loaded programs.
	NumApp() int

	// InitContext returns a context that enters program id in user mode
	// when resumed for the first time.
	InitContext(id int) *ctxsw.Context
}

// Switcher is the context switch primitive.
type Switcher interface {
	Blank() *ctxsw.Context
	Switch(save, resume *ctxsw.Context)
}

// Clock reads the hart time.
type Clock interface {
	TimeMS() uint64
	TimeUS() uint64
}

// Power turns the machine off. Shutdown does not return on real hardware.
type Power interface {
	Shutdown(failure bool)
}

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errNoApps               = &kernel.Error{Module: "task", Message: "no applications loaded"}
	errTooManyApps          = &kernel.Error{Module: "task", Message: "number of applications exceeds MaxAppNum"}
	errRunFirstTaskReturned = &kernel.Error{Module: "task", Message: "unreachable in RunFirstTask"}
)

// Stats reports the manager-wide clocks.
type Stats struct {
	// BootTimeStamp is the time (ms) at which the first task started.
	BootTimeStamp uint64

	// SystemTimeStamp is the time (ms) up to which task time is accounted.
	SystemTimeStamp uint64

	// SwitchTotalTime is the accumulated cost (us) of all context switches.
	SwitchTotalTime uint64
}

// Manager schedules tasks in round-robin order. It is built once at boot and
// handed to the trap dispatcher.
type Manager struct {
	numApp int
	sw     Switcher
	clock  Clock
	power  Power

	// lock guards every field below. It is never held across a switch.
	lock                sync.UPLock
	tasks               [MaxAppNum]ControlBlock
	currentTask         int
	bootTimeStamp       uint64
	systemTimeStamp     uint64
	taskSwitchTimeStamp uint64
	taskSwitchTotalTime uint64
	poweredOff          bool

	kernelInterrupt atomic.Bool
}

// NewManager builds the task table from the programs provided by loader.
// Every task starts Ready with its context seeded to the program entry.
func NewManager(loader Loader, sw Switcher, clock Clock, power Power) (*Manager, *kernel.Error) {
	numApp := loader.NumApp()
	switch {
	case numApp == 0:
		return nil, errNoApps
	case numApp > MaxAppNum:
		return nil, errTooManyApps
	}

	m := &Manager{
		numApp: numApp,
		sw:     sw,
		clock:  clock,
		power:  power,
	}
	for i := 0; i < numApp; i++ {
		m.tasks[i].Context = loader.InitContext(i)
		m.tasks[i].Status = Ready
	}

	return m, nil
}

// NumApp returns the number of tasks.
func (m *Manager) NumApp() int {
	return m.numApp
}

// CurrentTask returns the id of the Running task.
func (m *Manager) CurrentTask() int {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.currentTask
}

// Task returns a snapshot of task id.
func (m *Manager) Task(id int) Info {
	m.lock.Acquire()
	defer m.lock.Release()
	tcb := &m.tasks[id]
	return Info{ID: id, Status: tcb.Status, KernelTime: tcb.KernelTime, UserTime: tcb.UserTime}
}

// Tasks returns a snapshot of every task.
func (m *Manager) Tasks() []Info {
	infos := make([]Info, m.numApp)
	for id := range infos {
		infos[id] = m.Task(id)
	}
	return infos
}

// Stats returns the manager-wide clocks.
func (m *Manager) Stats() Stats {
	m.lock.Acquire()
	defer m.lock.Release()
	return Stats{
		BootTimeStamp:   m.bootTimeStamp,
		SystemTimeStamp: m.systemTimeStamp,
		SwitchTotalTime: m.taskSwitchTotalTime,
	}
}

// Snapshot returns every task together with the manager-wide clocks. It
// returns false without blocking if the task lock is held, which is the case
// when the machine halted inside a critical section.
func (m *Manager) Snapshot() ([]Info, Stats, bool) {
	if !m.lock.TryToAcquire() {
		return nil, Stats{}, false
	}
	defer m.lock.Release()

	infos := make([]Info, m.numApp)
	for id := range infos {
		tcb := &m.tasks[id]
		infos[id] = Info{ID: id, Status: tcb.Status, KernelTime: tcb.KernelTime, UserTime: tcb.UserTime}
	}

	return infos, Stats{
		BootTimeStamp:   m.bootTimeStamp,
		SystemTimeStamp: m.systemTimeStamp,
		SwitchTotalTime: m.taskSwitchTotalTime,
	}, true
}

// RunFirstTask starts task 0. It never returns.
func (m *Manager) RunFirstTask() {
	m.lock.Acquire()
	task0 := &m.tasks[0]
	task0.Status = Running
	m.currentTask = 0
	next := task0.Context
	m.lock.Release()

	unused := m.sw.Blank()
	m.startClocks()
	m.updateTaskSwitchTimeStamp()
	m.sw.Switch(unused, next)

	panicFn(errRunFirstTaskReturned)
}

// SuspendCurrentAndRunNext marks the Running task Ready and switches to the
// next Ready task.
func (m *Manager) SuspendCurrentAndRunNext() {
	m.markCurrentSuspended()
	m.runNextTask()
}

// ExitCurrentAndRunNext marks the Running task Exited and switches to the
// next Ready task. When no task is Ready the machine is powered off.
func (m *Manager) ExitCurrentAndRunNext() {
	m.markCurrentExited()
	m.runNextTask()
}

// UpdateCurrentTaskKernelTime charges the time elapsed since the last update
// to the kernel time of the Running task.
func (m *Manager) UpdateCurrentTaskKernelTime() {
	m.lock.Acquire()
	defer m.lock.Release()

	now := m.clock.TimeMS()
	m.tasks[m.currentTask].KernelTime += now - m.systemTimeStamp
	m.systemTimeStamp = now
}

// UpdateCurrentTaskUserTime charges the time elapsed since the last update to
// the user time of the Running task.
func (m *Manager) UpdateCurrentTaskUserTime() {
	m.lock.Acquire()
	defer m.lock.Release()

	now := m.clock.TimeMS()
	m.tasks[m.currentTask].UserTime += now - m.systemTimeStamp
	m.systemTimeStamp = now
}

// MarkKernelInterruptTriggered records that a timer interrupt was taken while
// the kernel was running. It never touches the task lock.
func (m *Manager) MarkKernelInterruptTriggered() {
	m.kernelInterrupt.Store(true)
}

// CheckKernelInterrupt returns true if a timer interrupt was ever taken while
// the kernel was running.
func (m *Manager) CheckKernelInterrupt() bool {
	return m.kernelInterrupt.Load()
}

func (m *Manager) markCurrentSuspended() {
	m.lock.Acquire()
	defer m.lock.Release()

	current := m.currentTask
	m.tasks[current].Status = Ready
	kfmt.Printf("[kernel] task_%d suspended!\n", current)
}

func (m *Manager) markCurrentExited() {
	m.lock.Acquire()
	defer m.lock.Release()

	current := m.currentTask
	tcb := &m.tasks[current]
	tcb.Status = Exited
	kfmt.Printf("[kernel] task_%d kernel time: %d, user time: %d\n", current, tcb.KernelTime, tcb.UserTime)
	kfmt.Printf("[kernel] task_%d exited!\n", current)
}

// findNextTask scans the ids after the current one in circular order and
// returns the first Ready task.
func (m *Manager) findNextTask() (int, bool) {
	m.lock.Acquire()
	defer m.lock.Release()

	current := m.currentTask
	for i := 1; i <= m.numApp; i++ {
		id := (current + i) % m.numApp
		if m.tasks[id].Status == Ready {
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) runNextTask() {
	next, ok := m.findNextTask()
	if !ok {
		m.shutdown()
		return
	}

	m.lock.Acquire()
	current := m.currentTask
	m.tasks[next].Status = Running
	m.currentTask = next
	save := m.tasks[current].Context
	resume := m.tasks[next].Context
	m.lock.Release()

	kfmt.Printf("[kernel] Run task_%d\n", next)
	m.updateTaskSwitchTimeStamp()
	m.sw.Switch(save, resume)

	// Resumed by a later switch back into this task.
	gap := m.calTaskSwitchCost()
	kfmt.Printf("[kernel] Switch task_%d, cost = %d us\n", current, gap)
}

func (m *Manager) shutdown() {
	m.lock.Acquire()
	if m.poweredOff {
		m.lock.Release()
		return
	}
	m.poweredOff = true
	m.lock.Release()

	kfmt.Printf("All applications completed!\n")
	m.power.Shutdown(false)
}

func (m *Manager) startClocks() {
	m.lock.Acquire()
	defer m.lock.Release()

	m.systemTimeStamp = m.clock.TimeMS()
	m.bootTimeStamp = m.systemTimeStamp
}

func (m *Manager) updateTaskSwitchTimeStamp() {
	m.lock.Acquire()
	defer m.lock.Release()

	m.taskSwitchTimeStamp = m.clock.TimeUS()
}

func (m *Manager) calTaskSwitchCost() uint64 {
	m.lock.Acquire()
	defer m.lock.Release()

	gap := m.clock.TimeUS() - m.taskSwitchTimeStamp
	m.taskSwitchTotalTime += gap
	return gap
}

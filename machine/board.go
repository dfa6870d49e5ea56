// Package machine implements a hosted RV64 board the kernel can boot on. The
// board provides the hart, the timer, user memory, the program loader, the
// console and the power controller; user programs are Go functions driving a
// User handle.
package machine

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/ctxsw"
	"rvos/kernel/gate"
	"rvos/kernel/kfmt"
	"rvos/kernel/kmain"
	"rvos/kernel/mem"
	"rvos/kernel/task"
)

// Program is a user program. It runs in user mode on behalf of its task and
// exits with code 0 when it returns.
type Program func(u *User)

// Option customizes a Board.
type Option func(*Board)

// WithConsole sends the console output to w.
func WithConsole(w io.Writer) Option {
	return func(b *Board) {
		b.console = w
	}
}

// WithLogger sets the logger used for board lifecycle events.
func WithLogger(l hclog.Logger) Option {
	return func(b *Board) {
		b.log = l
	}
}

// WithTracer records a span for every trap taken by a user program.
func WithTracer(t trace.Tracer) Option {
	return func(b *Board) {
		b.tracer = t
	}
}

// Report summarizes a finished run.
type Report struct {
	// Shutdowns counts the calls to the power controller.
	Shutdowns int

	// Failure is the status passed to the last shutdown.
	Failure bool

	// Halted is set when the kernel stopped the hart after a panic.
	Halted bool

	// Tasks holds the final state of every task. It is empty if the board
	// halted while the task table was locked.
	Tasks []task.Info

	// KernelInterrupt is set if a timer interrupt was taken inside the
	// kernel.
	KernelInterrupt bool

	// BootMS and ElapsedMS are the first and last accounted times.
	BootMS    uint64
	ElapsedMS uint64

	// SwitchTotalUS is the accumulated cost of all context switches.
	SwitchTotalUS uint64

	// Traps counts the traps taken, by cause.
	Traps map[string]int
}

var errExitReturned = &kernel.Error{Module: "machine", Message: "sys_exit returned"}

// Board is a single-hart machine. A board runs once.
type Board struct {
	cfg      Config
	programs []Program

	console io.Writer
	log     hclog.Logger
	tracer  trace.Tracer
	ctx     context.Context

	core  *ctxsw.Core
	hart  *hart
	mem   *memory
	users []*User

	kernel *kmain.Kernel
	ran    bool

	// flows tracks every goroutine holding a kernel flow.
	flows     sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once
	shutdowns int
	failure   bool
	halted    bool
}

// New returns a board loaded with programs.
func New(cfg Config, programs []Program, opts ...Option) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Board{
		cfg:      cfg,
		programs: programs,
		console:  os.Stdout,
		log:      hclog.NewNullLogger(),
		tracer:   noop.NewTracerProvider().Tracer(""),
		ctx:      context.Background(),
		core:     ctxsw.NewCore(),
		hart:     newHart(cfg.usToTicks(cfg.KernelStepUS), 0x80200000),
		mem:      newMemory(cfg, len(programs)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	for id := range programs {
		b.users = append(b.users, newUser(b, id))
	}

	return b, nil
}

// Run boots the kernel and blocks until the machine powers off, halts or ctx
// is cancelled.
func (b *Board) Run(ctx context.Context) (*Report, error) {
	if b.ran {
		return nil, fmt.Errorf("board already ran")
	}
	b.ran = true
	b.ctx = ctx

	b.log.Info("power on",
		"apps", len(b.programs),
		"clock_freq", b.cfg.ClockFreq,
		"ticks_per_sec", b.cfg.TicksPerSec,
		"image_size", mem.Size(b.cfg.AppSizeLimit).String(),
		"stack_size", mem.Size(b.cfg.UserStackSize).String(),
	)

	bootErr := make(chan *kernel.Error, 1)
	b.flows.Add(1)
	go func() {
		defer b.flows.Done()

		k, err := kmain.Boot(b)
		if err != nil {
			bootErr <- err
			return
		}
		b.kernel = k
		k.Run()
	}()

	select {
	case err := <-bootErr:
		b.flows.Wait()
		b.detach()
		b.log.Error("boot failed", "error", err.String())
		return nil, fmt.Errorf("boot: %w", err)
	case <-b.done:
	case <-ctx.Done():
		// the running flow terminates at its next instruction
		b.core.PowerOff()
		b.flows.Wait()
		b.detach()
		b.log.Warn("run cancelled")
		return nil, ctx.Err()
	}

	b.flows.Wait()
	b.detach()

	report := b.report()
	b.log.Info("power off", "shutdowns", report.Shutdowns, "halted", report.Halted, "elapsed_ms", report.ElapsedMS-report.BootMS)
	return report, nil
}

func (b *Board) detach() {
	cpu.Attach(nil)
	gate.Install(nil)
	kfmt.SetOutputSink(nil)
}

func (b *Board) report() *Report {
	r := &Report{
		Shutdowns: b.shutdowns,
		Failure:   b.failure,
		Halted:    b.halted,
		Traps:     make(map[string]int, len(b.hart.traps)),
	}
	for cause, n := range b.hart.traps {
		r.Traps[cause.String()] = n
	}

	if b.kernel == nil {
		return r
	}

	r.KernelInterrupt = b.kernel.Tasks.CheckKernelInterrupt()
	if infos, stats, ok := b.kernel.Tasks.Snapshot(); ok {
		r.Tasks = infos
		r.BootMS = stats.BootTimeStamp
		r.ElapsedMS = stats.SystemTimeStamp
		r.SwitchTotalUS = stats.SwitchTotalTime
	}
	return r
}

// powerOff terminates every flow and releases Run. The calling flow never
// returns.
func (b *Board) powerOff() {
	b.core.PowerOff()
	b.doneOnce.Do(func() { close(b.done) })
	runtime.Goexit()
}

// Shutdown turns the machine off.
func (b *Board) Shutdown(failure bool) {
	b.shutdowns++
	b.failure = failure
	b.log.Info("shutdown requested", "failure", failure)
	b.powerOff()
}

// Halt stops the hart after a kernel panic.
func (b *Board) Halt() {
	b.halted = true
	b.log.Error("hart halted", "mode", b.hart.mode.String(), "sepc", fmt.Sprintf("%#x", b.hart.csr[cpu.Sepc]))
	b.powerOff()
}

// ReadCSR implements cpu.Hart.
func (b *Board) ReadCSR(c cpu.CSR) uint64 {
	return b.hart.readCSR(c)
}

// WriteCSR implements cpu.Hart.
func (b *Board) WriteCSR(c cpu.CSR, v uint64) {
	b.hart.writeCSR(c, v)
}

// ReadTime implements timer.Hardware.
func (b *Board) ReadTime() uint64 {
	return b.hart.readTime()
}

// SetTimer implements timer.Hardware.
func (b *Board) SetTimer(deadline uint64) {
	b.hart.setTimer(deadline)
}

// NumApp returns the number of loaded programs.
func (b *Board) NumApp() int {
	return len(b.programs)
}

// InitContext returns a context that starts program id in user mode.
func (b *Board) InitContext(id int) *ctxsw.Context {
	u := b.users[id]
	return b.core.GotoEntry(func() { b.enterUser(u) })
}

func (b *Board) enterUser(u *User) {
	defer b.flows.Done()

	b.log.Debug("enter user", "task", u.id, "entry", fmt.Sprintf("%#x", u.pc))
	b.hart.enterUser()
	b.programs[u.id](u)
	u.Exit(0)
}

// Blank returns an empty context.
func (b *Board) Blank() *ctxsw.Context {
	return b.core.Blank()
}

// Switch hands the hart to the flow saved in resume.
func (b *Board) Switch(save, resume *ctxsw.Context) {
	if resume.Seeded() {
		b.flows.Add(1)
	}
	b.core.Switch(save, resume)
}

// UserStack returns the top and size of the user stack of program id.
func (b *Board) UserStack(id int) (uint64, uint64) {
	return b.mem.stacks[id].end(), b.cfg.UserStackSize
}

// AppRange returns the image window of program id.
func (b *Board) AppRange(id int) (uint64, uint64) {
	img := b.mem.images[id]
	return img.base, img.end()
}

// ReadUser copies length bytes of user memory starting at addr.
func (b *Board) ReadUser(addr, length uint64) []byte {
	return b.mem.read(addr, length)
}

// Console returns the console output sink.
func (b *Board) Console() io.Writer {
	return b.console
}

// ClockFreq returns the frequency of the time counter.
func (b *Board) ClockFreq() uint64 {
	return b.cfg.ClockFreq
}

// TicksPerSec returns the timer interrupt rate.
func (b *Board) TicksPerSec() uint64 {
	return b.cfg.TicksPerSec
}

// KernelInterrupts returns true if the kernel may be interrupted by the timer.
func (b *Board) KernelInterrupts() bool {
	return b.cfg.KernelInterrupts
}

// userTrap raises cause on behalf of u and returns once the kernel resumes
// it.
func (b *Board) userTrap(u *User, cause gate.Cause, stval uint64) {
	_, span := b.tracer.Start(b.ctx, "trap", trace.WithAttributes(
		attribute.String("cause", cause.String()),
		attribute.Int("task", u.id),
		attribute.String("sepc", fmt.Sprintf("%#x", u.regs.Sepc)),
	))
	defer span.End()

	b.log.Trace("user trap", "task", u.id, "cause", cause.String(), "stval", fmt.Sprintf("%#x", stval))
	if ret := b.hart.trap(cause, stval, &u.regs); ret != &u.regs {
		u.regs = *ret
	}
}

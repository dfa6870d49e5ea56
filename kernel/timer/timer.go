// Package timer converts the hart time counter into wall-clock units and arms
// the periodic timer interrupt that drives preemption.
package timer

const (
	// DefaultTicksPerSec is the number of timer interrupts per second.
	DefaultTicksPerSec = 100

	msecPerSec  = 1000
	usecPerSec  = 1000000
	defaultFreq = 12500000
)

// Hardware is the timer device: a free-running counter and a comparator that
// raises a supervisor timer interrupt once the counter reaches it.
type Hardware interface {
	ReadTime() uint64
	SetTimer(deadline uint64)
}

// Timer reads time and arms deadlines on behalf of the kernel.
type Timer struct {
	hw          Hardware
	clockFreq   uint64
	ticksPerSec uint64
}

// New returns a timer for a counter running at clockFreq Hz that interrupts
// ticksPerSec times per second. Zero values select the defaults. The
// interrupt rate is capped at one interrupt per counter tick.
func New(hw Hardware, clockFreq, ticksPerSec uint64) *Timer {
	if clockFreq == 0 {
		clockFreq = defaultFreq
	}
	if ticksPerSec == 0 {
		ticksPerSec = DefaultTicksPerSec
	}
	if ticksPerSec > clockFreq {
		ticksPerSec = clockFreq
	}
	return &Timer{hw: hw, clockFreq: clockFreq, ticksPerSec: ticksPerSec}
}

// Time returns the raw counter value.
func (t *Timer) Time() uint64 {
	return t.hw.ReadTime()
}

// TimeMS returns the elapsed time in milliseconds.
func (t *Timer) TimeMS() uint64 {
	return t.hw.ReadTime() * msecPerSec / t.clockFreq
}

// TimeUS returns the elapsed time in microseconds.
func (t *Timer) TimeUS() uint64 {
	return t.hw.ReadTime() * usecPerSec / t.clockFreq
}

// Period returns the number of counter ticks between two timer interrupts.
func (t *Timer) Period() uint64 {
	return t.clockFreq / t.ticksPerSec
}

// SetNextTrigger arms the next timer interrupt one period from now.
func (t *Timer) SetNextTrigger() {
	t.hw.SetTimer(t.hw.ReadTime() + t.Period())
}

package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"rvos/kernel/mem"
	"rvos/kernel/task"
)

// Config is the board manifest.
type Config struct {
	// ClockFreq is the frequency of the time counter in Hz.
	ClockFreq uint64 `yaml:"clock_freq"`

	// TicksPerSec is the number of timer interrupts per second.
	TicksPerSec uint64 `yaml:"ticks_per_sec"`

	// KernelStepUS is the time, in microseconds, that elapses every time the
	// kernel reads the time counter.
	KernelStepUS uint64 `yaml:"kernel_step_us"`

	// AppBase is the load address of the first program image.
	AppBase uint64 `yaml:"app_base"`

	// AppSizeLimit is the size of every program image window.
	AppSizeLimit uint64 `yaml:"app_size_limit"`

	// StackBase is the bottom of the first user stack.
	StackBase uint64 `yaml:"stack_base"`

	// UserStackSize is the size of every user stack.
	UserStackSize uint64 `yaml:"user_stack_size"`

	// KernelInterrupts lets the timer interrupt the kernel while it handles
	// a user trap.
	KernelInterrupts bool `yaml:"kernel_interrupts"`

	// Apps lists the programs to load, by name.
	Apps []string `yaml:"apps"`
}

const (
	codeSize = uint64(4 * mem.Kb)
	minStack = uint64(512 * mem.Byte)
)

// DefaultConfig returns the manifest of the reference board.
func DefaultConfig() Config {
	return Config{
		ClockFreq:     12500000,
		TicksPerSec:   100,
		KernelStepUS:  50,
		AppBase:       0x80400000,
		AppSizeLimit:  uint64(128 * mem.Kb),
		StackBase:     0x80600000,
		UserStackSize: uint64(8 * mem.Kb),
		Apps:          []string{"hello"},
	}
}

// ParseConfig decodes a YAML manifest. Fields missing from data keep their
// default value.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode board manifest: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes the manifest stored at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read board manifest: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks that the manifest describes a board the kernel can boot on.
func (c Config) Validate() error {
	switch {
	case c.ClockFreq < 1000:
		return fmt.Errorf("clock_freq must be at least 1000 Hz; got %d", c.ClockFreq)
	case c.TicksPerSec == 0 || c.TicksPerSec > c.ClockFreq:
		return fmt.Errorf("ticks_per_sec must be in [1, clock_freq]; got %d", c.TicksPerSec)
	case c.AppSizeLimit < 2*codeSize:
		return fmt.Errorf("app_size_limit must be at least %#x; got %#x", 2*codeSize, c.AppSizeLimit)
	case c.UserStackSize < minStack || !mem.Size(c.UserStackSize).IsAligned(mem.WordSize):
		return fmt.Errorf("user_stack_size must be a multiple of %d no smaller than %#x; got %#x", mem.WordSize, minStack, c.UserStackSize)
	case len(c.Apps) > task.MaxAppNum:
		return fmt.Errorf("at most %d apps can be loaded; got %d", task.MaxAppNum, len(c.Apps))
	}

	imageEnd := c.AppBase + task.MaxAppNum*c.AppSizeLimit
	stackEnd := c.StackBase + task.MaxAppNum*c.UserStackSize
	if imageEnd < c.AppBase || stackEnd < c.StackBase {
		return fmt.Errorf("memory layout wraps around the address space")
	}
	if c.AppBase < stackEnd && c.StackBase < imageEnd {
		return fmt.Errorf("image windows [%#x, %#x) overlap user stacks [%#x, %#x)", c.AppBase, imageEnd, c.StackBase, stackEnd)
	}
	return nil
}

// usToTicks converts microseconds to time counter ticks.
func (c Config) usToTicks(us uint64) uint64 {
	return us * c.ClockFreq / 1000000
}

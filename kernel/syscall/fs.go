package syscall

import (
	"rvos/kernel"
	"unicode/utf8"
)

// FDStdout is the only descriptor accepted by write.
const FDStdout = 1

// ErrNonText is returned when a write payload is not valid UTF-8.
var ErrNonText = &kernel.Error{Module: "syscall", Message: "write payload is not text"}

// Window is a half-open address range [Low, High).
type Window struct {
	Low, High uint64
}

// Holds reports whether the buffer [start, start+length) may be read from w.
// Both the first address and the end address start+length must lie inside
// the window, so a buffer that ends exactly at High is rejected.
func (w Window) Holds(start, length uint64) bool {
	end := start + length
	if end < start {
		return false
	}
	return w.contains(start) && w.contains(end)
}

func (w Window) contains(addr uint64) bool {
	return w.Low <= addr && addr < w.High
}

// CheckWrite decides whether the kernel may read [start, start+length) on
// behalf of a task whose user stack and image occupy the supplied windows.
func CheckWrite(fd, start, length uint64, stack, image Window) bool {
	if fd != FDStdout {
		return false
	}
	return stack.Holds(start, length) || image.Holds(start, length)
}

func (t *Table) sysWrite(args Args) (int64, *kernel.Error) {
	fd, buf, length := args[0], args[1], args[2]

	id := t.sched.CurrentTask()
	top, size := t.space.UserStack(id)
	low, high := t.space.AppRange(id)
	if !CheckWrite(fd, buf, length, Window{Low: top - size, High: top}, Window{Low: low, High: high}) {
		return -1, nil
	}

	p := t.space.ReadUser(buf, length)
	if uint64(len(p)) != length {
		return -1, nil
	}
	if !utf8.Valid(p) {
		return 0, ErrNonText
	}

	if _, err := t.out.Write(p); err != nil {
		return -1, nil
	}
	return int64(length), nil
}

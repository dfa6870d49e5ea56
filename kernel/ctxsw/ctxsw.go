// Package ctxsw implements the context switch primitive: the only operation
// that changes which flow of control runs on the hart.
//
// Every flow (the boot flow and one flow per task) runs on its own goroutine,
// but at most one of them is ever runnable. Switch hands the hart over to
// another flow and parks the caller until some later Switch resumes it.
package ctxsw

import (
	"runtime"
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"sync"
)

var errEntryReturned = &kernel.Error{Module: "ctxsw", Message: "flow returned from its entry point"}

// Context is a slot holding the resumable state of a suspended flow.
type Context struct {
	wake    chan struct{}
	entry   func()
	started bool
}

// Seeded returns true if the context will start a fresh flow at an entry
// point when first resumed.
func (c *Context) Seeded() bool {
	return c.entry != nil && !c.started
}

// Core owns the flows of a single hart.
type Core struct {
	off     chan struct{}
	offOnce sync.Once
}

// NewCore returns a powered-on core.
func NewCore() *Core {
	return &Core{off: make(chan struct{})}
}

// Blank returns an empty context. It can only be used as a save target.
func (c *Core) Blank() *Context {
	return &Context{wake: make(chan struct{})}
}

// GotoEntry returns a context that starts executing entry when it is resumed
// for the first time. entry must never return.
func (c *Core) GotoEntry(entry func()) *Context {
	return &Context{wake: make(chan struct{}), entry: entry}
}

// Switch saves the calling flow into save, then resumes the flow stored in
// resume. It returns when another Switch resumes save. Once the core is
// powered off the calling flow is terminated instead.
func (c *Core) Switch(save, resume *Context) {
	if save == resume {
		return
	}

	if resume.Seeded() {
		resume.started = true
		go c.launch(resume.entry)
	} else {
		select {
		case resume.wake <- struct{}{}:
		case <-c.off:
			runtime.Goexit()
		}
	}

	select {
	case <-save.wake:
	case <-c.off:
		runtime.Goexit()
	}
}

// PowerOff terminates every parked flow. It is safe to call more than once.
func (c *Core) PowerOff() {
	c.offOnce.Do(func() { close(c.off) })
}

// Off is closed once the core is powered off.
func (c *Core) Off() <-chan struct{} {
	return c.off
}

func (c *Core) launch(entry func()) {
	entry()
	kfmt.Panic(errEntryReturned)
}

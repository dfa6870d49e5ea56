package task

import "rvos/kernel/ctxsw"

// Status describes the lifecycle state of a task.
type Status uint8

const (
	// UnInit marks a slot whose program has not been loaded yet.
	UnInit Status = iota

	// Ready marks a task that can be scheduled.
	Ready

	// Running marks the task that currently owns the hart.
	Running

	// Exited marks a terminated task. Exited tasks are never scheduled
	// again.
	Exited
)

func (s Status) String() string {
	switch s {
	case UnInit:
		return "UnInit"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// ControlBlock holds the per-task scheduling and accounting state.
type ControlBlock struct {
	Status  Status
	Context *ctxsw.Context

	// Milliseconds spent in kernel and user mode on behalf of the task.
	KernelTime uint64
	UserTime   uint64
}

// Info is a read-only snapshot of a ControlBlock.
type Info struct {
	ID         int
	Status     Status
	KernelTime uint64
	UserTime   uint64
}

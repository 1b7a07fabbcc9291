package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkerCount rejects worker counts outside 1..MaxWorkers.
	ErrInvalidWorkerCount = errors.New("worker count out of range")

	// ErrNotRunning rejects submissions after shutdown has begun.
	ErrNotRunning = errors.New("pool is not running")

	// ErrNilTask rejects a nil task function.
	ErrNilTask = errors.New("task function cannot be nil")

	// ErrTaskDiscarded fulfills the handle of a task dropped by a
	// DiscardPendingTasks shutdown before it ever started.
	ErrTaskDiscarded = errors.New("task discarded before execution")
)

// PanicError is the failure recorded on a handle when its task body
// panicked. The worker that ran the task survives.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

package pool

import (
	"context"
	"runtime"

	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/taskpool/pkg/core"
)

// MaxWorkers is the upper bound on the worker count accepted by New
// and Reboot.
const MaxWorkers = 4096

// TaskFunc is a unit of work. The context is the pool's run context;
// it is cancelled when the pool shuts down in DiscardPendingTasks mode,
// which running tasks may honor or ignore.
type TaskFunc func(ctx context.Context) (any, error)

// ShutdownMode selects what happens to queued tasks when the pool
// stops.
type ShutdownMode int

const (
	// WaitForAllTasks lets workers drain the queue before retiring.
	WaitForAllTasks ShutdownMode = iota

	// DiscardPendingTasks drops queued tasks; their handles fail with
	// ErrTaskDiscarded. Tasks already executing run to completion.
	DiscardPendingTasks
)

// String returns a human-readable mode name.
func (m ShutdownMode) String() string {
	switch m {
	case WaitForAllTasks:
		return "WaitForAllTasks"
	case DiscardPendingTasks:
		return "DiscardPendingTasks"
	default:
		return "Unknown"
	}
}

// Pool executes submitted tasks on a fixed set of worker goroutines
// pulling from a shared FIFO queue.
type Pool interface {
	// Submit enqueues a task and returns its result handle.
	// Fails with ErrNotRunning once shutdown has begun.
	Submit(fn TaskFunc) (*Handle, error)

	// SubmitNamed is Submit with a name used in logs and traces.
	SubmitNamed(name string, fn TaskFunc) (*Handle, error)

	// WaitAll blocks until no tasks are queued or executing.
	// Returns immediately when the pool is already drained.
	WaitAll()

	// WaitAllContext is WaitAll bounded by ctx.
	WaitAllContext(ctx context.Context) error

	// Shutdown stops the pool, joins every worker, and clears the
	// worker set. Idempotent.
	Shutdown(mode ShutdownMode)

	// ShutdownContext is Shutdown with a deadline on the join step.
	// On expiry worker retirement continues in the background and the
	// next lifecycle call joins the stragglers.
	ShutdownContext(ctx context.Context, mode ShutdownMode) error

	// Reboot drains and stops the current worker set, then launches a
	// fresh one of the given size. Validation matches New.
	Reboot(workers int) error

	// Close shuts the pool down waiting for all tasks. Always nil.
	Close() error

	// IsRunning reports whether the pool accepts submissions.
	IsRunning() bool

	// Workers returns the size of the live worker set, zero once
	// stopped.
	Workers() int

	// Busy returns the number of workers currently executing a task.
	Busy() int

	// Idle returns Workers minus Busy at a single instant.
	Idle() int

	// Pending returns the number of queued, not yet started tasks.
	Pending() int

	// Status returns a point-in-time snapshot of all of the above.
	Status() Status
}

// Status is a point-in-time snapshot of pool state. The cumulative
// counters survive Reboot; the gauges reset with the worker set.
type Status struct {
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	Busy      int    `json:"busy"`
	Idle      int    `json:"idle"`
	Pending   int    `json:"pending"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
}

// Config configures a Pool.
type Config struct {
	// Workers is the worker goroutine count, 1..MaxWorkers.
	Workers int

	// Logger receives lifecycle and task-failure messages.
	// Defaults to core.NewDefaultLogger.
	Logger core.Logger

	// Tracer, when set, wraps every task execution in a span.
	Tracer trace.Tracer
}

// DefaultConfig returns a configuration sized to the host.
func DefaultConfig() Config {
	return Config{
		Workers: runtime.NumCPU(),
	}
}

// New creates a Pool and launches its workers. The returned pool is
// running; callers should arrange Close or Shutdown.
func New(cfg Config) (Pool, error) {
	return newDefaultPool(cfg)
}

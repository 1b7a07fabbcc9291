package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/taskpool/pkg/core"
)

// defaultPool implements Pool.
//
// mu guards the queue, the running flag, and the per-generation
// channels; busy and the cumulative counters are atomics; the
// completion tracker carries its own lock, acquired only after mu is
// released. lifeMu serializes shutdown and reboot so a new worker set
// never launches while a previous one is still being joined.
type defaultPool struct {
	mu      sync.Mutex
	queue   *taskQueue
	running bool
	total   int
	wake    chan struct{} // one token wakes one waiting worker
	stop    chan struct{} // closed at shutdown to wake every worker

	runCtx context.Context
	cancel context.CancelFunc

	lifeMu sync.Mutex
	wg     sync.WaitGroup

	busy    int64 // atomic
	tracker *completionTracker

	submitted uint64 // atomic
	completed uint64 // atomic
	failed    uint64 // atomic
	discarded uint64 // atomic

	logger core.Logger
	tracer trace.Tracer
}

func newDefaultPool(cfg Config) (*defaultPool, error) {
	if cfg.Workers <= 0 || cfg.Workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidWorkerCount, cfg.Workers, MaxWorkers)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	p := &defaultPool{
		queue:   newTaskQueue(),
		tracker: newCompletionTracker(),
		logger:  logger,
		tracer:  cfg.Tracer,
	}

	p.mu.Lock()
	p.startLocked(cfg.Workers)
	p.mu.Unlock()

	p.logger.Infof("pool started: workers=%d", cfg.Workers)
	return p, nil
}

// startLocked launches a fresh worker set. Requires p.mu held and no
// live workers from a previous generation.
func (p *defaultPool) startLocked(workers int) {
	p.running = true
	p.total = workers
	p.wake = make(chan struct{}, workers)
	p.stop = make(chan struct{})
	p.runCtx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(p.runCtx, p.wake, p.stop)
	}
}

func (p *defaultPool) Submit(fn TaskFunc) (*Handle, error) {
	return p.submit("", fn)
}

func (p *defaultPool) SubmitNamed(name string, fn TaskFunc) (*Handle, error) {
	return p.submit(name, fn)
}

func (p *defaultPool) submit(name string, fn TaskFunc) (*Handle, error) {
	if fn == nil {
		return nil, ErrNilTask
	}

	t := &task{
		fn:          fn,
		handle:      newHandle(name),
		submittedAt: time.Now(),
	}

	// Account before enqueueing so WaitAll never observes a dip while
	// the task is in flight between the two structures.
	p.tracker.add()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.tracker.done()
		return nil, ErrNotRunning
	}
	p.queue.push(t)
	wake := p.wake
	p.mu.Unlock()

	atomic.AddUint64(&p.submitted, 1)

	// Wake one waiting worker. A full buffer means every worker
	// already has a wakeup pending, so dropping the token is safe.
	select {
	case wake <- struct{}{}:
	default:
	}

	return t.handle, nil
}

// worker is the loop each worker goroutine runs until retirement.
// Retires only when the pool is stopped and the queue was observed
// empty in the same critical section.
func (p *defaultPool) worker(ctx context.Context, wake, stop <-chan struct{}) {
	defer p.wg.Done()

	for {
		t, running := p.dequeue()
		if t == nil {
			if !running {
				return
			}
			select {
			case <-wake:
			case <-stop:
			}
			continue
		}

		p.execute(ctx, t)
		p.tracker.done()
	}
}

// dequeue pops one task; when the queue is empty it reports the
// running flag read under the same lock.
func (p *defaultPool) dequeue() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.queue.pop(); ok {
		return t, true
	}
	return nil, p.running
}

// execute runs one task with no pool locks held, bracketing it with
// the busy counter so recursive submissions cannot deadlock.
func (p *defaultPool) execute(ctx context.Context, t *task) {
	atomic.AddInt64(&p.busy, 1)
	defer atomic.AddInt64(&p.busy, -1)

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "taskpool.task", trace.WithAttributes(
			attribute.String("task.id", t.handle.id.String()),
			attribute.String("task.name", t.handle.name),
			attribute.Int64("task.queue_wait_ms", time.Since(t.submittedAt).Milliseconds()),
		))
	}

	value, err := p.runTask(ctx, t)

	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Errorf("task %s failed: %v", t.handle, err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		atomic.AddUint64(&p.completed, 1)
	}
	if span != nil {
		span.End()
	}

	t.handle.complete(value, err)
}

// runTask invokes the task body, converting a panic into an error so
// it never escapes the worker.
func (p *defaultPool) runTask(ctx context.Context, t *task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Task:  t.handle.String(),
				Value: r,
				Stack: debug.Stack(),
			}
		}
	}()
	return t.fn(ctx)
}

func (p *defaultPool) WaitAll() {
	p.tracker.wait()
}

func (p *defaultPool) WaitAllContext(ctx context.Context) error {
	return p.tracker.waitContext(ctx)
}

func (p *defaultPool) Shutdown(mode ShutdownMode) {
	_ = p.ShutdownContext(context.Background(), mode)
}

func (p *defaultPool) ShutdownContext(ctx context.Context, mode ShutdownMode) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	return p.shutdownLocked(ctx, mode)
}

// shutdownLocked stops the pool and joins whatever is currently in the
// worker set, including stragglers from an earlier deadline-bounded
// call. Requires lifeMu held.
func (p *defaultPool) shutdownLocked(ctx context.Context, mode ShutdownMode) error {
	p.mu.Lock()
	wasRunning := p.running
	var dropped []*task
	if wasRunning {
		p.running = false
		if mode == DiscardPendingTasks {
			dropped = p.queue.drain()
		}
		close(p.stop)
	}
	p.mu.Unlock()

	if wasRunning && mode == DiscardPendingTasks {
		// Cooperative signal to in-flight tasks; they still run to
		// completion unless they honor the context themselves.
		p.cancel()
		for _, t := range dropped {
			atomic.AddUint64(&p.discarded, 1)
			t.handle.complete(nil, ErrTaskDiscarded)
			p.tracker.done()
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	p.mu.Lock()
	p.total = 0
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if wasRunning {
		p.logger.Infof("pool stopped: mode=%s", mode)
	}
	return nil
}

func (p *defaultPool) Reboot(workers int) error {
	if workers <= 0 || workers > MaxWorkers {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidWorkerCount, workers, MaxWorkers)
	}

	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	// Always drain first so the new worker set starts from a clean
	// baseline regardless of any prior shutdown mode.
	if err := p.shutdownLocked(context.Background(), WaitForAllTasks); err != nil {
		return err
	}

	p.mu.Lock()
	p.startLocked(workers)
	p.mu.Unlock()

	p.logger.Infof("pool rebooted: workers=%d", workers)
	return nil
}

func (p *defaultPool) Close() error {
	p.Shutdown(WaitForAllTasks)
	return nil
}

func (p *defaultPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *defaultPool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *defaultPool) Busy() int {
	return int(atomic.LoadInt64(&p.busy))
}

func (p *defaultPool) Idle() int {
	return p.Status().Idle
}

func (p *defaultPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

func (p *defaultPool) Status() Status {
	p.mu.Lock()
	running := p.running
	total := p.total
	pending := p.queue.len()
	p.mu.Unlock()

	busy := int(atomic.LoadInt64(&p.busy))
	idle := total - busy
	if idle < 0 {
		idle = 0
	}

	return Status{
		Running:   running,
		Workers:   total,
		Busy:      busy,
		Idle:      idle,
		Pending:   pending,
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Discarded: atomic.LoadUint64(&p.discarded),
	}
}

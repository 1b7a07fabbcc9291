package pool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/taskpool/pkg/core"
)

func newTestPool(t *testing.T, workers int) Pool {
	t.Helper()
	p, err := New(Config{Workers: workers, Logger: core.NopLogger{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestNew_WorkerCount(t *testing.T) {
	for _, n := range []int{1, 2, 8} {
		p := newTestPool(t, n)
		if !p.IsRunning() {
			t.Errorf("IsRunning() = false after New(%d)", n)
		}
		if got := p.Workers(); got != n {
			t.Errorf("Workers() = %d, want %d", got, n)
		}
		st := p.Status()
		if st.Workers != n || !st.Running {
			t.Errorf("Status() = %+v, want %d running workers", st, n)
		}
	}
}

func TestNew_InvalidWorkerCount(t *testing.T) {
	for _, n := range []int{0, -1, MaxWorkers + 1} {
		p, err := New(Config{Workers: n, Logger: core.NopLogger{}})
		if !errors.Is(err, ErrInvalidWorkerCount) {
			t.Errorf("New(%d) error = %v, want ErrInvalidWorkerCount", n, err)
		}
		if p != nil {
			t.Errorf("New(%d) returned a pool alongside the error", n)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("DefaultConfig().Workers = %d, want %d", cfg.Workers, runtime.NumCPU())
	}
	p, err := New(Config{Workers: cfg.Workers, Logger: core.NopLogger{}})
	if err != nil {
		t.Fatalf("New(default) error = %v", err)
	}
	defer p.Close()
	if p.Workers() != cfg.Workers {
		t.Errorf("Workers() = %d, want %d", p.Workers(), cfg.Workers)
	}
}

func TestSubmit_ResultRoundTrip(t *testing.T) {
	p := newTestPool(t, 4)

	const n = 50
	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		i := i
		h, err := p.Submit(func(ctx context.Context) (any, error) {
			return i * i, nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		handles = append(handles, h)
	}

	got := make(map[int]bool, n)
	for _, h := range handles {
		v, err := h.Get()
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		got[v.(int)] = true
	}
	for i := 0; i < n; i++ {
		if !got[i*i] {
			t.Errorf("missing result %d", i*i)
		}
	}
}

func TestSubmit_NilTask(t *testing.T) {
	p := newTestPool(t, 1)
	if _, err := p.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Submit(nil) error = %v, want ErrNilTask", err)
	}
}

func TestSubmit_AfterShutdown(t *testing.T) {
	p := newTestPool(t, 2)
	p.Shutdown(WaitForAllTasks)

	for i := 0; i < 10; i++ {
		_, err := p.Submit(func(ctx context.Context) (any, error) { return nil, nil })
		if !errors.Is(err, ErrNotRunning) {
			t.Fatalf("Submit() after shutdown, attempt %d: error = %v, want ErrNotRunning", i, err)
		}
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	p := newTestPool(t, 2)

	p.Shutdown(WaitForAllTasks)
	if p.IsRunning() {
		t.Error("IsRunning() = true after first Shutdown")
	}
	if p.Workers() != 0 {
		t.Errorf("Workers() = %d after Shutdown, want 0", p.Workers())
	}

	p.Shutdown(WaitForAllTasks)
	if p.IsRunning() {
		t.Error("IsRunning() = true after second Shutdown")
	}
	if p.Workers() != 0 {
		t.Errorf("Workers() = %d after second Shutdown, want 0", p.Workers())
	}
}

func TestShutdown_WaitForAllTasks(t *testing.T) {
	p := newTestPool(t, 2)

	var counter int64
	const k = 20
	for i := 0; i < k; i++ {
		_, err := p.Submit(func(ctx context.Context) (any, error) {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&counter, 1)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	p.Shutdown(WaitForAllTasks)
	if got := atomic.LoadInt64(&counter); got != k {
		t.Errorf("counter = %d after draining shutdown, want %d", got, k)
	}
}

func TestShutdown_DiscardPendingTasks(t *testing.T) {
	p := newTestPool(t, 2)

	gate := make(chan struct{})
	var started int64
	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := p.Submit(func(ctx context.Context) (any, error) {
			atomic.AddInt64(&started, 1)
			<-gate
			return "done", nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		handles = append(handles, h)
	}

	if !waitUntil(t, time.Second, func() bool { return p.Busy() == 2 }) {
		t.Fatalf("Busy() = %d, want 2 workers blocked on the gate", p.Busy())
	}

	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown(DiscardPendingTasks)
		close(shutdownDone)
	}()

	// The three queued tasks are rejected before the join step, while
	// the two in-flight ones still hold the gate.
	countDiscarded := func() int {
		n := 0
		for _, h := range handles {
			select {
			case <-h.Done():
				if _, err := h.Get(); errors.Is(err, ErrTaskDiscarded) {
					n++
				}
			default:
			}
		}
		return n
	}
	if !waitUntil(t, time.Second, func() bool { return countDiscarded() == 3 }) {
		t.Errorf("discarded handles = %d, want 3", countDiscarded())
	}

	close(gate)
	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown(DiscardPendingTasks) did not return after the gate opened")
	}

	if p.IsRunning() {
		t.Error("IsRunning() = true after discard shutdown")
	}
	if got := atomic.LoadInt64(&started); got > 2 {
		t.Errorf("started tasks = %d, want at most 2", got)
	}

	finished := 0
	for _, h := range handles {
		if v, err := h.Get(); err == nil && v == "done" {
			finished++
		}
	}
	if finished != 2 {
		t.Errorf("finished handles = %d, want the 2 that held the gate", finished)
	}

	st := p.Status()
	if st.Discarded != 3 {
		t.Errorf("Status().Discarded = %d, want 3", st.Discarded)
	}
}

func TestReboot(t *testing.T) {
	p := newTestPool(t, 4)
	p.Shutdown(WaitForAllTasks)

	if err := p.Reboot(3); err != nil {
		t.Fatalf("Reboot(3) error = %v", err)
	}
	if !p.IsRunning() {
		t.Error("IsRunning() = false after Reboot")
	}
	if p.Workers() != 3 {
		t.Errorf("Workers() = %d after Reboot(3), want 3", p.Workers())
	}

	h, err := p.Submit(func(ctx context.Context) (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Submit() after Reboot error = %v", err)
	}
	if v, err := h.Get(); err != nil || v.(int) != 42 {
		t.Errorf("Get() = %v, %v, want 42, nil", v, err)
	}
}

func TestReboot_InvalidWorkerCount(t *testing.T) {
	p := newTestPool(t, 2)
	for _, n := range []int{0, -5, MaxWorkers + 1} {
		if err := p.Reboot(n); !errors.Is(err, ErrInvalidWorkerCount) {
			t.Errorf("Reboot(%d) error = %v, want ErrInvalidWorkerCount", n, err)
		}
	}
	// A rejected reboot leaves the prior worker set untouched.
	if !p.IsRunning() || p.Workers() != 2 {
		t.Errorf("pool state after rejected Reboot: running=%v workers=%d, want running 2", p.IsRunning(), p.Workers())
	}
}

func TestReboot_ResizesRunningPool(t *testing.T) {
	p := newTestPool(t, 4)

	var counter int64
	for i := 0; i < 10; i++ {
		p.Submit(func(ctx context.Context) (any, error) {
			atomic.AddInt64(&counter, 1)
			return nil, nil
		})
	}

	if err := p.Reboot(1); err != nil {
		t.Fatalf("Reboot(1) error = %v", err)
	}
	// Reboot drains before relaunching.
	if got := atomic.LoadInt64(&counter); got != 10 {
		t.Errorf("counter = %d after Reboot, want 10", got)
	}
	if p.Workers() != 1 {
		t.Errorf("Workers() = %d after Reboot(1), want 1", p.Workers())
	}
}

func TestTaskFailure_SurfacesOnHandle(t *testing.T) {
	p := newTestPool(t, 2)

	boom := errors.New("boom")
	h, err := p.Submit(func(ctx context.Context) (any, error) { return nil, boom })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, got := h.Get(); !errors.Is(got, boom) {
		t.Errorf("Get() error = %v, want %v", got, boom)
	}

	if !p.IsRunning() {
		t.Error("IsRunning() = false after a task failure")
	}
	h2, err := p.Submit(func(ctx context.Context) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("Submit() after failure error = %v", err)
	}
	if v, err := h2.Get(); err != nil || v.(string) != "ok" {
		t.Errorf("Get() = %v, %v, want ok, nil", v, err)
	}

	if st := p.Status(); st.Failed != 1 || st.Completed != 1 {
		t.Errorf("Status() counters = %+v, want Failed=1 Completed=1", st)
	}
}

func TestTaskPanic_CapturedAsError(t *testing.T) {
	p := newTestPool(t, 1)

	h, err := p.SubmitNamed("exploder", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	_, got := h.Get()
	var pe *PanicError
	if !errors.As(got, &pe) {
		t.Fatalf("Get() error = %v, want *PanicError", got)
	}
	if pe.Value != "kaboom" || pe.Task != "exploder" {
		t.Errorf("PanicError = %+v, want Value kaboom Task exploder", pe)
	}
	if len(pe.Stack) == 0 {
		t.Error("PanicError.Stack is empty")
	}

	// The single worker survived the panic.
	h2, err := p.Submit(func(ctx context.Context) (any, error) { return 1, nil })
	if err != nil {
		t.Fatalf("Submit() after panic error = %v", err)
	}
	if v, err := h2.Get(); err != nil || v.(int) != 1 {
		t.Errorf("Get() = %v, %v, want 1, nil", v, err)
	}
}

func TestRecursiveSubmit(t *testing.T) {
	p := newTestPool(t, 1)

	h, err := p.Submit(func(ctx context.Context) (any, error) {
		child, err := p.Submit(func(ctx context.Context) (any, error) {
			return "child", nil
		})
		if err != nil {
			return nil, err
		}
		return child, nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	v, err := h.Get()
	if err != nil {
		t.Fatalf("parent Get() error = %v", err)
	}
	childValue, err := v.(*Handle).Get()
	if err != nil {
		t.Fatalf("child Get() error = %v", err)
	}
	if childValue.(string) != "child" {
		t.Errorf("child Get() = %v, want child", childValue)
	}
}

func TestSubmitNamed_Identity(t *testing.T) {
	p := newTestPool(t, 1)

	h, err := p.SubmitNamed("lookup", func(ctx context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("SubmitNamed() error = %v", err)
	}
	if h.Name() != "lookup" {
		t.Errorf("Name() = %q, want lookup", h.Name())
	}
	if h.ID().String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID() is the zero UUID")
	}
	if h.String() != "lookup" {
		t.Errorf("String() = %q, want lookup", h.String())
	}
}

func TestStatus_BusyIdle(t *testing.T) {
	p := newTestPool(t, 4)

	gate := make(chan struct{})
	for i := 0; i < 2; i++ {
		p.Submit(func(ctx context.Context) (any, error) {
			<-gate
			return nil, nil
		})
	}

	if !waitUntil(t, time.Second, func() bool { return p.Busy() == 2 }) {
		t.Fatalf("Busy() = %d, want 2", p.Busy())
	}
	st := p.Status()
	if st.Busy != 2 || st.Idle != 2 || st.Workers != 4 {
		t.Errorf("Status() = %+v, want Busy=2 Idle=2 Workers=4", st)
	}
	close(gate)
}

func TestShutdownContext_Deadline(t *testing.T) {
	p := newTestPool(t, 1)

	gate := make(chan struct{})
	p.Submit(func(ctx context.Context) (any, error) {
		<-gate
		return nil, nil
	})
	if !waitUntil(t, time.Second, func() bool { return p.Busy() == 1 }) {
		t.Fatal("worker never picked up the gated task")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.ShutdownContext(ctx, WaitForAllTasks)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ShutdownContext() error = %v, want DeadlineExceeded", err)
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after deadline-bounded shutdown began")
	}

	close(gate)
	// The next lifecycle call joins the straggler.
	p.Shutdown(WaitForAllTasks)
	if p.Workers() != 0 {
		t.Errorf("Workers() = %d after final Shutdown, want 0", p.Workers())
	}
}

func TestClose_DrainsPool(t *testing.T) {
	p := newTestPool(t, 2)

	var counter int64
	for i := 0; i < 10; i++ {
		p.Submit(func(ctx context.Context) (any, error) {
			atomic.AddInt64(&counter, 1)
			return nil, nil
		})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := atomic.LoadInt64(&counter); got != 10 {
		t.Errorf("counter = %d after Close, want 10", got)
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
}

func TestDiscard_CancelsRunContext(t *testing.T) {
	p := newTestPool(t, 1)

	observed := make(chan error, 1)
	p.Submit(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		observed <- ctx.Err()
		return nil, ctx.Err()
	})
	if !waitUntil(t, time.Second, func() bool { return p.Busy() == 1 }) {
		t.Fatal("worker never started the task")
	}

	p.Shutdown(DiscardPendingTasks)

	select {
	case err := <-observed:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("task context error = %v, want Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task never observed the cancelled context")
	}
}

package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// completionTracker lets WaitAll callers block until the pool is
// drained. pending counts queued plus executing tasks. Its mutex is
// distinct from the pool's state mutex and is never acquired while
// that one is held.
type completionTracker struct {
	pending int64 // atomic

	mu    sync.Mutex
	idle  chan struct{} // closed while drained
	armed bool          // idle not yet closed
}

func newCompletionTracker() *completionTracker {
	t := &completionTracker{
		idle: make(chan struct{}),
	}
	close(t.idle)
	return t
}

// add accounts for one submitted task. Re-arms the idle channel when
// the pool leaves the drained state.
func (t *completionTracker) add() {
	t.mu.Lock()
	if atomic.AddInt64(&t.pending, 1) == 1 {
		t.idle = make(chan struct{})
		t.armed = true
	}
	t.mu.Unlock()
}

// done accounts for one finished or discarded task. The counter test
// before the lock is the fast-path optimization; the re-test under the
// lock closes the race where another task arrives between the two.
func (t *completionTracker) done() {
	if atomic.AddInt64(&t.pending, -1) != 0 {
		return
	}
	t.mu.Lock()
	if atomic.LoadInt64(&t.pending) == 0 && t.armed {
		close(t.idle)
		t.armed = false
	}
	t.mu.Unlock()
}

// wait blocks until a drained instant. Returns immediately when
// nothing is pending.
func (t *completionTracker) wait() {
	if atomic.LoadInt64(&t.pending) == 0 {
		return
	}
	for {
		t.mu.Lock()
		if atomic.LoadInt64(&t.pending) == 0 {
			t.mu.Unlock()
			return
		}
		ch := t.idle
		t.mu.Unlock()
		<-ch
	}
}

// waitContext is wait bounded by ctx.
func (t *completionTracker) waitContext(ctx context.Context) error {
	if atomic.LoadInt64(&t.pending) == 0 {
		return nil
	}
	for {
		t.mu.Lock()
		if atomic.LoadInt64(&t.pending) == 0 {
			t.mu.Unlock()
			return nil
		}
		ch := t.idle
		t.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

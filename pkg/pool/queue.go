package pool

const (
	queueCompactMinCap = 64
	queueShrinkFactor  = 4
)

// taskQueue is a FIFO of pending tasks. It is not safe for concurrent
// use; the pool guards it with its state mutex.
type taskQueue struct {
	items []*task
	head  int
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

func (q *taskQueue) push(t *task) {
	q.items = append(q.items, t)
}

func (q *taskQueue) pop() (*task, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	t := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	q.maybeCompact()
	return t, true
}

// drain removes and returns every pending task in FIFO order.
func (q *taskQueue) drain() []*task {
	pending := q.items[q.head:]
	out := make([]*task, len(pending))
	copy(out, pending)
	q.items = nil
	q.head = 0
	return out
}

func (q *taskQueue) len() int {
	return len(q.items) - q.head
}

// maybeCompact drops the consumed prefix once it dominates the backing
// array, so long-lived pools do not pin dead entries.
func (q *taskQueue) maybeCompact() {
	if cap(q.items) < queueCompactMinCap {
		return
	}
	if q.head*queueShrinkFactor < cap(q.items)*(queueShrinkFactor-1) {
		return
	}
	remaining := copy(q.items, q.items[q.head:])
	for i := remaining; i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = q.items[:remaining]
	q.head = 0
}

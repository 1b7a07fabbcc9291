package pool

import (
	"context"

	"github.com/google/uuid"
)

// Handle is the read side of a task's deferred result. Exactly one
// writer (the executing worker, or shutdown when discarding) fulfills
// it; any number of readers may wait on it.
type Handle struct {
	id    uuid.UUID
	name  string
	done  chan struct{}
	value any
	err   error
}

func newHandle(name string) *Handle {
	return &Handle{
		id:   uuid.New(),
		name: name,
		done: make(chan struct{}),
	}
}

// complete publishes the outcome. Called at most once.
func (h *Handle) complete(value any, err error) {
	h.value = value
	h.err = err
	close(h.done)
}

// ID returns the task's identity assigned at submission.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Name returns the submission name, empty for unnamed tasks.
func (h *Handle) Name() string {
	return h.name
}

// String returns the name when present, the ID otherwise.
func (h *Handle) String() string {
	if h.name != "" {
		return h.name
	}
	return h.id.String()
}

// Done returns a channel closed once the outcome is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Get blocks until the task finishes and returns its outcome. A task
// discarded at shutdown yields ErrTaskDiscarded.
func (h *Handle) Get() (any, error) {
	<-h.done
	return h.value, h.err
}

// GetContext is Get bounded by ctx; on expiry it returns ctx's error
// and the task outcome remains retrievable later.
func (h *Handle) GetContext(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package pool

import "time"

// task pairs a unit of work with its handle. Owned by the caller until
// enqueued, by the queue until dequeued, then by exactly one worker.
type task struct {
	fn          TaskFunc
	handle      *Handle
	submittedAt time.Time
}

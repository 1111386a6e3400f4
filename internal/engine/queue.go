package engine

import (
	"context"
	"sync"
)

type job struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) error
	// finish receives the job result, it may be nil
	finish func(error)
}

// jobQueue is an unbounded FIFO. Pushing never blocks so it is safe to call
// while holding the engine lock or from inside a running job.
type jobQueue struct {
	mu     sync.Mutex
	items  []job
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{signal: make(chan struct{}, 1)}
}

func (q *jobQueue) push(j job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *jobQueue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return job{}, false
	}
	j := q.items[0]
	q.items[0] = job{}
	q.items = q.items[1:]
	return j, true
}

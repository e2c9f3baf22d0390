package listener

import (
	"context"
	"sync"
)

// workQueue is an unbounded FIFO of notification batches with a single
// consumer. push never blocks.
type workQueue struct {
	mu      sync.Mutex
	batches [][]string
	closed  bool
	wake    chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{wake: make(chan struct{}, 1)}
}

func (q *workQueue) push(batch []string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.batches = append(q.batches, batch)
	q.mu.Unlock()
	q.signal()
}

func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *workQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the next batch, blocking until one arrives. It reports
// false once the queue is closed and drained, or ctx ends.
func (q *workQueue) pop(ctx context.Context) ([]string, bool) {
	for {
		q.mu.Lock()
		if len(q.batches) > 0 {
			batch := q.batches[0]
			q.batches = q.batches[1:]
			q.mu.Unlock()
			return batch, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

package pool

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned when submitting to, or draining from, a pool
// that has been shut down.
var ErrPoolClosed = errors.New("pool: closed")

// taskQueue is an unbounded FIFO hand-off between submitters and workers.
// Enqueue never blocks; Dequeue blocks until an item arrives or the queue
// closes. After Close, Dequeue drains the remaining items before reporting
// ErrPoolClosed, so queued work always reaches a terminal state.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*task
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) Enqueue(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrPoolClosed
	}
	q.items = append(q.items, t)
	q.cond.Signal()
	return nil
}

func (q *taskQueue) Dequeue() (*task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, ErrPoolClosed
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, nil
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *taskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

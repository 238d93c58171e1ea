// Package engine runs the analysis pipeline: a worker pool pulls task ids
// from a dispatch queue, each execution drives one task through retrieval,
// model invocation, and aggregation, and every state change goes through the
// store's transition path.
package engine

import (
	"context"
	"sync"
	"time"
)

// Queue hands task ids to a bounded worker pool. An id is executed by at
// most one worker at a time; enqueueing an id that is already queued or
// running is a no-op, since the running execution reads current state from
// the store anyway.
type Queue struct {
	ch chan string

	mu      sync.Mutex
	pending map[string]bool
	closed  bool

	wg sync.WaitGroup
}

// NewQueue returns a dispatch queue with the given buffer size.
func NewQueue(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{
		ch:      make(chan string, buffer),
		pending: make(map[string]bool),
	}
}

// Enqueue schedules a task id for execution. It reports false when the id is
// already pending, the queue is stopped, or the buffer is full. Tasks are
// durable, so a dropped dispatch is recovered by Recover on restart.
func (q *Queue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.pending[id] {
		return false
	}

	select {
	case q.ch <- id:
		q.pending[id] = true
		return true
	default:
		return false
	}
}

// EnqueueAfter schedules the id after the given delay. Used for task-level
// retry backoff.
func (q *Queue) EnqueueAfter(id string, delay time.Duration) {
	time.AfterFunc(delay, func() { q.Enqueue(id) })
}

// Start launches the worker pool. Each worker runs one task id at a time and
// re-schedules it when run asks for a retry dispatch. Start returns
// immediately; call Stop to drain.
func (q *Queue) Start(ctx context.Context, workers int, run func(ctx context.Context, id string) time.Duration) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-q.ch:
					if !ok {
						return
					}
					retryAfter := run(ctx, id)
					q.release(id)
					if retryAfter > 0 {
						q.EnqueueAfter(id, retryAfter)
					}
				}
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight executions to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

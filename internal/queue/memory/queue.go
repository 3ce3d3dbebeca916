// Package memory provides the in-process FIFO work queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// Queue is an unbounded FIFO work queue safe for concurrent use. Enqueue
// never blocks, which lets a SEARCH item fan out its DETAIL items from
// inside a pool context without deadlocking the pool.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []scrape.WorkItem
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an item. Enqueueing to a closed queue is an error.
func (q *Queue) Enqueue(_ context.Context, item scrape.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return scrape.ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Dequeue pops the oldest item, blocking until one is available, the queue
// closes, or the context ends. Items still queued when Close is called are
// drained before ErrQueueClosed is reported.
func (q *Queue) Dequeue(ctx context.Context) (scrape.WorkItem, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return scrape.WorkItem{}, scrape.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return scrape.WorkItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.cond.Wait()
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// Close wakes all blocked consumers once the remaining items drain.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the current backlog size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

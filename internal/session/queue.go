package session

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO safe for many producers and one consumer.
// Every item taken with Get must be acknowledged with Done.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	pending int
	ready   chan struct{}
	idle    chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		ready: make(chan struct{}, 1),
		idle:  make(chan struct{}),
	}
	close(q.idle)
	return q
}

// Put appends v. It never blocks.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get blocks until an item is available or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Done marks one item taken with Get as fully processed.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		panic("session: Queue.Done called more times than Put")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Join blocks until every item put so far has been acknowledged.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of items waiting to be taken.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of items put but not yet acknowledged.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

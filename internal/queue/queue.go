// ABOUTME: Unbounded FIFO queue with context-aware blocking dequeue
// ABOUTME: Disposal wakes waiters with an error and hands back undelivered items
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrDisposed is the default error returned after Dispose(nil)
var ErrDisposed = errors.New("queue disposed")

// Queue is a FIFO safe for concurrent producers and consumers
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	notify   chan struct{}
	disposed error
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{})}
}

// Enqueue appends an item. It fails once the queue is disposed.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed != nil {
		return q.disposed
	}
	q.items = append(q.items, item)
	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// Dequeue removes the oldest item, waiting until one is available,
// the context ends or the queue is disposed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.disposed != nil {
			err := q.disposed
			q.mu.Unlock()
			return zero, err
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsDisposed reports whether Dispose was called
func (q *Queue[T]) IsDisposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed != nil
}

// Dispose rejects all current and future waiters with err and returns the
// items that were never dequeued. Later calls return nil.
func (q *Queue[T]) Dispose(err error) []T {
	if err == nil {
		err = ErrDisposed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed != nil {
		return nil
	}
	q.disposed = err
	left := q.items
	q.items = nil
	close(q.notify)
	q.notify = make(chan struct{})
	return left
}

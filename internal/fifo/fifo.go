// Package fifo provides the unbounded queue shared by the event loop and
// the notification channels.
package fifo

import "sync"

// Queue is a thread-safe, unbounded FIFO for a single consumer.
//
// Producers hold the mutex only long enough to append, so Push never
// blocks on the consumer. The signal channel (buffered, size 1) coalesces
// wake-ups and is closed by Close, which lets the consumer select on it
// next to a context.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

// New returns an empty queue with room for capacity items.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v. Returns false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, v)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the front item without blocking.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]
	// Release references held by the popped slot.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return v, true
}

// Wait returns the wake-up channel. It is closed once the queue is closed.
func (q *Queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting items and wakes the consumer. Items already
// queued stay poppable. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

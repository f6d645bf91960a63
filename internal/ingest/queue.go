package ingest

import "sync"

// Queue is a bounded, insertion-ordered FIFO. Capacity is enforced on insert:
// Len never exceeds Cap.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// NewQueue constructs a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{capacity: capacity}
}

// Push appends item to the tail. It reports false, leaving the queue unchanged,
// when the queue is at capacity.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Take removes and returns up to n items from the head in one step.
func (q *Queue[T]) Take(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]T, n)
	copy(batch, q.items[:n])
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

// PushFront reinserts batch ahead of the current head, preserving batch order.
// The insert is all-or-nothing: it reports false and changes nothing when the
// combined length would exceed capacity.
func (q *Queue[T]) PushFront(batch []T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(batch) == 0 {
		return true
	}
	total := len(batch) + len(q.items)
	if total > q.capacity {
		return false
	}
	merged := make([]T, 0, total)
	merged = append(merged, batch...)
	merged = append(merged, q.items...)
	q.items = merged
	return true
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured maximum length.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

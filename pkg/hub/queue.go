package hub

import (
	"sync"

	"github.com/HMasataka/beacon/pkg/domain"
)

// DefaultMaxQueueSize is used when a queue is created with a non-positive capacity.
const DefaultMaxQueueSize = 100

// Queue is the bounded replay buffer. Once full, each push evicts the oldest
// entry.
type Queue struct {
	mu       sync.RWMutex
	items    []domain.Envelope
	capacity int
}

// NewQueue creates a new queue
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultMaxQueueSize
	}

	return &Queue{
		items:    make([]domain.Envelope, 0, capacity),
		capacity: capacity,
	}
}

// Push appends env and returns how many entries were evicted
func (q *Queue) Push(env domain.Envelope) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	if len(q.items) >= q.capacity {
		evicted = len(q.items) - q.capacity + 1
		copy(q.items, q.items[evicted:])
		q.items = q.items[:len(q.items)-evicted]
	}

	q.items = append(q.items, env)
	return evicted
}

// Recent returns up to n of the newest entries, oldest first, each marked as
// a replay.
func (q *Queue) Recent(n int) []domain.Envelope {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	out := make([]domain.Envelope, 0, n)
	for _, env := range q.items[len(q.items)-n:] {
		out = append(out, env.Replay())
	}
	return out
}

// Len returns the number of buffered entries
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Capacity returns the maximum number of buffered entries
func (q *Queue) Capacity() int {
	return q.capacity
}

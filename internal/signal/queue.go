package signal

import "sync"

// DefaultQueueCapacity bounds the pending-signal backlog. Signals arriving
// faster than the engine drains them are rejected rather than buffered
// without limit; a producer that outruns the loop by this much is broken
// and the caller should see the rejection.
const DefaultQueueCapacity = 1024

// Queue is a concurrent-safe, bounded FIFO of signals. Duplicates are
// accepted; price-driven checks, prediction events, and news events may all
// enqueue the same intent and dedup is not this layer's concern.
type Queue struct {
	mu       sync.Mutex
	items    []Signal
	capacity int
}

func NewQueue() *Queue {
	return NewQueueWithCapacity(DefaultQueueCapacity)
}

// NewQueueWithCapacity creates a queue holding at most n signals. n <= 0
// falls back to the default capacity.
func NewQueueWithCapacity(n int) *Queue {
	if n <= 0 {
		n = DefaultQueueCapacity
	}
	return &Queue{capacity: n}
}

// Enqueue appends a signal to the tail. It returns false without queueing
// when the queue is full.
func (q *Queue) Enqueue(s Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, s)
	return true
}

// Pop removes and returns the head signal; ok is false when empty.
func (q *Queue) Pop() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Signal{}, false
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all queued signals and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

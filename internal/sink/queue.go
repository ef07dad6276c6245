package sink

import "sync"

// Queue is an unbounded, thread-safe FIFO ring. It doubles its capacity
// when full instead of blocking or dropping, so producers never wait on a
// slow consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // next read
	count  int
	closed bool

	// Stats
	enqueued int64
	dequeued int64
	rejected int64
	grows    int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Depth    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Rejected int64 // Pushes after Close
	Grows    int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{
		buf: make([]T, initialCapacity),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.rejected++
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.enqueued++

	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest item, blocking until one is available.
// After Close, remaining items are still returned; once empty Pop returns
// the zero value and false.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero // Release reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.dequeued++

	return item, true
}

// Close stops accepting new items and wakes all blocked Pop calls.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:    q.count,
		Capacity: len(q.buf),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Rejected: q.rejected,
		Grows:    q.grows,
	}
}

// grow doubles capacity and unwraps the ring to start at index 0.
// Must be called with lock held.
func (q *Queue[T]) grow() {
	next := make([]T, 2*len(q.buf))
	n := copy(next, q.buf[q.head:])
	copy(next[n:], q.buf[:q.head])

	q.buf = next
	q.head = 0
	q.grows++
}

package engine

import "sync"

// invalidationQueue is a thread-safe FIFO of subscription keys awaiting
// re-evaluation.
//
// Enqueueing a key that is already waiting is a no-op: any number of
// invalidations between two evaluations collapse into one. A key removed by
// TryDequeue can be enqueued again immediately; the reconciler's dirty flag
// handles a key that is re-enqueued while it is being evaluated.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in worker loops.
type invalidationQueue struct {
	mu      sync.Mutex
	keys    []string
	pending map[string]struct{}
	closed  bool
	signal  chan struct{} // Signals key availability (buffered, size 1)
}

func newInvalidationQueue() *invalidationQueue {
	return &invalidationQueue{
		keys:    make([]string, 0, 64),
		pending: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds key to the back of the queue unless it is already waiting.
// Returns false if the queue is closed.
func (q *invalidationQueue) Enqueue(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.pending[key]; ok {
		return true
	}

	q.pending[key] = struct{}{}
	q.keys = append(q.keys, key)
	q.notify()
	return true
}

// TryDequeue removes and returns the front key without blocking.
func (q *invalidationQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.keys) == 0 {
		return "", false
	}

	key := q.keys[0]
	if len(q.keys) == 1 {
		q.keys = q.keys[:0]
	} else {
		q.keys = q.keys[1:]
	}
	delete(q.pending, key)

	// Wake another worker so keys are processed in parallel.
	if len(q.keys) > 0 {
		q.notify()
	}
	return key, true
}

// notify signals availability. The buffer of 1 coalesces multiple signals.
// Must be called with mu held.
func (q *invalidationQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when keys may be available. The
// channel is closed when the queue is closed.
func (q *invalidationQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of waiting keys.
func (q *invalidationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Closed reports whether Close has been called.
func (q *invalidationQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting keys and wakes all waiters.
func (q *invalidationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

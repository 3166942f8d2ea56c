package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidationQueue_FIFO(t *testing.T) {
	q := newInvalidationQueue()

	for _, k := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(k))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestInvalidationQueue_CoalescesWaitingKeys(t *testing.T) {
	q := newInvalidationQueue()

	q.Enqueue("A")
	q.Enqueue("B")
	q.Enqueue("A")
	assert.Equal(t, 2, q.Len())

	got, _ := q.TryDequeue()
	assert.Equal(t, "A", got)

	// Once dequeued, the key can be queued again.
	q.Enqueue("A")
	assert.Equal(t, 2, q.Len())
}

func TestInvalidationQueue_TryDequeue_Empty(t *testing.T) {
	q := newInvalidationQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestInvalidationQueue_Wait_Signals(t *testing.T) {
	q := newInvalidationQueue()
	q.Enqueue("A")

	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no signal after enqueue")
	}
}

func TestInvalidationQueue_Close(t *testing.T) {
	q := newInvalidationQueue()
	q.Close()

	assert.False(t, q.Enqueue("A"), "enqueue after close should return false")
	assert.True(t, q.Closed())

	select {
	case _, open := <-q.Wait():
		assert.False(t, open)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("close did not wake waiters")
	}

	q.Close() // idempotent
}

func TestInvalidationQueue_ThreadSafe(t *testing.T) {
	q := newInvalidationQueue()

	const producers = 10
	const keysPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < keysPerProducer; i++ {
				q.Enqueue(fmt.Sprintf("%d-%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		k, ok := q.TryDequeue()
		if !ok {
			break
		}
		require.False(t, seen[k], "key %s dequeued twice", k)
		seen[k] = true
	}
	assert.Len(t, seen, producers*keysPerProducer)
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/livechat/internal/store"
)

func commitTouching(seq int64, ranges ...store.Range) store.Commit {
	return store.Commit{Seq: seq, Touched: store.NewRangeSet(ranges...)}
}

func TestHistory_TouchedSince(t *testing.T) {
	h := newHistory(8, 0)
	msgs := store.IndexRange("messages", "by_conversation", "c1")
	other := store.IndexRange("messages", "by_conversation", "c2")

	h.add(commitTouching(3, msgs))
	h.add(commitTouching(5, other))

	deps := store.NewRangeSet(msgs)
	assert.True(t, h.touchedSince(2, deps))
	assert.False(t, h.touchedSince(3, deps), "commit at the snapshot is already visible")
	assert.False(t, h.touchedSince(4, deps))
	assert.True(t, h.touchedSince(4, store.NewRangeSet(other)))
}

func TestHistory_EvictionRaisesFloor(t *testing.T) {
	h := newHistory(2, 0)
	r := store.TableRange("typing")

	h.add(commitTouching(1, r))
	h.add(commitTouching(2, r))
	h.add(commitTouching(3, r)) // evicts seq 1

	unrelated := store.NewRangeSet(store.TableRange("users"))
	assert.True(t, h.touchedSince(0, unrelated), "snapshot below the floor is conservatively stale")
	assert.False(t, h.touchedSince(1, unrelated))
	assert.False(t, h.touchedSince(3, store.NewRangeSet(r)))
}

func TestHistory_InitialFloor(t *testing.T) {
	h := newHistory(4, 10)

	deps := store.NewRangeSet(store.TableRange("users"))
	assert.True(t, h.touchedSince(9, deps))
	assert.False(t, h.touchedSince(10, deps))
}

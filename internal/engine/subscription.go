package engine

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/canon"
	"github.com/roach88/livechat/internal/store"
)

// observer is one client's interest in a subscription.
type observer struct {
	id   string
	conn Conn
	// since is the subscription version the observer has already seen. It
	// is MaxInt64 until Subscribe has handed over the initial result.
	since int64
}

// subscription is a live query shared by every observer with the same key.
type subscription struct {
	key    string
	def    QueryDef
	caller Caller
	args   json.RawMessage

	// ready is closed once the first evaluation finished; initErr is set
	// before that if it failed.
	ready   chan struct{}
	initErr error

	mu        sync.Mutex
	observers map[string]*observer
	result    json.RawMessage
	errResult *apperr.Error
	hash      string
	snapshot  int64
	version   int64 // bumped on every changed result
	running   bool
	dirty     bool
	closed    bool
}

func newSubscription(key string, def QueryDef, caller Caller, args json.RawMessage) *subscription {
	return &subscription{
		key:       key,
		def:       def,
		caller:    caller,
		args:      args,
		ready:     make(chan struct{}),
		observers: make(map[string]*observer),
	}
}

// addObserver attaches a not-yet-active observer. Must hold mu.
func (s *subscription) addObserver(id string, conn Conn) {
	s.observers[id] = &observer{id: id, conn: conn, since: math.MaxInt64}
}

// activate returns the current result to a new observer and enables pushes
// of anything newer.
func (s *subscription) activate(observerID string) (Subscribed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.observers[observerID]
	if !ok || s.closed {
		return Subscribed{}, false
	}
	o.since = s.version
	return Subscribed{ObserverID: observerID, Result: s.result, Snapshot: s.snapshot}, true
}

// pendingPush is an update addressed to one observer, built under mu and
// delivered outside it.
type pendingPush struct {
	conn   Conn
	update Update
}

// apply records an evaluation and returns the pushes it causes. Results
// from an older snapshot than the current one are ignored. Poll queries
// can change without a new snapshot, so an equal snapshot is accepted.
// Must hold mu.
func (s *subscription) apply(snapshot int64, result json.RawMessage, errResult *apperr.Error, hash string) []pendingPush {
	if snapshot < s.snapshot {
		return nil
	}
	s.snapshot = snapshot
	if hash == s.hash {
		return nil
	}
	s.result = result
	s.errResult = errResult
	s.hash = hash
	s.version++

	pushes := make([]pendingPush, 0, len(s.observers))
	for _, o := range s.observers {
		if s.version <= o.since {
			continue
		}
		o.since = s.version
		pushes = append(pushes, pendingPush{
			conn: o.conn,
			update: Update{
				ObserverID: o.id,
				Query:      s.def.Name,
				Result:     result,
				Error:      errResult,
				Snapshot:   snapshot,
			},
		})
	}
	return pushes
}

// resultHash hashes what an observer would see: the encoded result, or the
// error in its place.
func resultHash(result json.RawMessage, errResult *apperr.Error) (string, error) {
	if errResult == nil {
		return canon.ResultHash(result), nil
	}
	encoded, err := json.Marshal(map[string]any{"error": errResult})
	if err != nil {
		return "", err
	}
	return canon.ResultHash(encoded), nil
}

// isPoll reports whether the subscription is refreshed by ticker instead of
// by range.
func (s *subscription) isPoll() bool {
	return s.def.Poll > 0
}

// depsOrEmpty guards against a nil set from a failed evaluation.
func depsOrEmpty(r store.RangeSet) store.RangeSet {
	if r == nil {
		return store.NewRangeSet()
	}
	return r
}

package engine

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/roach88/livechat/internal/observability/metrics"
	"github.com/roach88/livechat/internal/store"
)

// registry maps subscription keys to subscriptions, ranges to the keys that
// depend on them, and connections to the observers they own.
//
// Thread-safety: all methods lock mu. Lock order is registry.mu before
// subscription.mu.
type registry struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	deps    map[string]store.RangeSet           // key -> indexed dependency set
	byRange map[store.Range]map[string]struct{} // range -> keys
	byConn  map[string]map[string]string        // conn id -> observer id -> key
	byQuery map[string]map[string]struct{}      // poll query name -> keys
}

func newRegistry() *registry {
	return &registry{
		subs:    make(map[string]*subscription),
		deps:    make(map[string]store.RangeSet),
		byRange: make(map[store.Range]map[string]struct{}),
		byConn:  make(map[string]map[string]string),
		byQuery: make(map[string]map[string]struct{}),
	}
}

// attach adds an observer to the subscription for key, creating the
// subscription if needed. created reports whether the caller must run the
// first evaluation.
func (r *registry) attach(key string, def QueryDef, caller Caller, args json.RawMessage, conn Conn, observerID string) (sub *subscription, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key]
	if !ok {
		sub = newSubscription(key, def, caller, args)
		r.subs[key] = sub
		created = true
		if sub.isPoll() {
			addKey(r.byQuery, def.Name, key)
		}
		metrics.LiveSubscriptions.Set(float64(len(r.subs)))
	}

	sub.mu.Lock()
	sub.addObserver(observerID, conn)
	sub.mu.Unlock()

	observers, ok := r.byConn[conn.ID()]
	if !ok {
		observers = make(map[string]string)
		r.byConn[conn.ID()] = observers
	}
	observers[observerID] = key
	return sub, created
}

// detach removes one observer. The subscription is closed when its last
// observer leaves. Returns false if the observer was unknown.
func (r *registry) detach(connID, observerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	observers, ok := r.byConn[connID]
	if !ok {
		return false
	}
	key, ok := observers[observerID]
	if !ok {
		return false
	}
	delete(observers, observerID)
	if len(observers) == 0 {
		delete(r.byConn, connID)
	}
	r.detachLocked(key, observerID)
	return true
}

// detachConn removes every observer owned by a connection and returns how
// many there were.
func (r *registry) detachConn(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	observers := r.byConn[connID]
	delete(r.byConn, connID)
	for observerID, key := range observers {
		r.detachLocked(key, observerID)
	}
	return len(observers)
}

func (r *registry) detachLocked(key, observerID string) {
	sub, ok := r.subs[key]
	if !ok {
		return
	}
	sub.mu.Lock()
	delete(sub.observers, observerID)
	empty := len(sub.observers) == 0
	if empty {
		sub.closed = true
	}
	sub.mu.Unlock()

	if empty {
		r.removeLocked(sub)
	}
}

// remove drops a subscription and all of its observers, e.g. when its first
// evaluation failed.
func (r *registry) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[sub.key] != sub {
		return
	}
	sub.mu.Lock()
	sub.closed = true
	observers := make([]*observer, 0, len(sub.observers))
	for _, o := range sub.observers {
		observers = append(observers, o)
	}
	sub.observers = map[string]*observer{}
	sub.mu.Unlock()

	for _, o := range observers {
		connID := o.conn.ID()
		if m, ok := r.byConn[connID]; ok {
			delete(m, o.id)
			if len(m) == 0 {
				delete(r.byConn, connID)
			}
		}
	}
	r.removeLocked(sub)
}

func (r *registry) removeLocked(sub *subscription) {
	if r.subs[sub.key] != sub {
		return
	}
	delete(r.subs, sub.key)
	r.unindexLocked(sub.key)
	if sub.isPoll() {
		removeKey(r.byQuery, sub.def.Name, sub.key)
	}
	metrics.LiveSubscriptions.Set(float64(len(r.subs)))
}

// setDeps replaces the dependency set indexed for sub. Poll subscriptions
// are never indexed by range. A closed subscription is ignored.
func (r *registry) setDeps(sub *subscription, deps store.RangeSet) {
	if sub.isPoll() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[sub.key] != sub {
		return
	}
	r.unindexLocked(sub.key)
	r.deps[sub.key] = deps
	for rng := range deps {
		addKey(r.byRange, rng, sub.key)
	}
}

func (r *registry) unindexLocked(key string) {
	for rng := range r.deps[key] {
		removeKey(r.byRange, rng, key)
	}
	delete(r.deps, key)
}

// affected returns the keys of subscriptions whose dependency set
// intersects touched, in sorted order.
func (r *registry) affected(touched store.RangeSet) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	for rng := range touched {
		for key := range r.byRange[rng] {
			seen[key] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// pollKeys returns the keys of live subscriptions to a poll query.
func (r *registry) pollKeys(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.byQuery[name])
}

func (r *registry) get(key string) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[key]
	return sub, ok
}

// observers returns how many observers a connection holds.
func (r *registry) observers(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn[connID])
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func addKey[K comparable](m map[K]map[string]struct{}, k K, key string) {
	set, ok := m[k]
	if !ok {
		set = make(map[string]struct{})
		m[k] = set
	}
	set[key] = struct{}{}
}

func removeKey[K comparable](m map[K]map[string]struct{}, k K, key string) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(m, k)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

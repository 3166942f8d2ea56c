package engine

import "fmt"

// DefaultMaxObservers is the default number of observers one connection
// may hold.
const DefaultMaxObservers = 256

// observerQuota caps the observers held by a single connection.
//
// Subscriptions to the same query and arguments share one evaluation, but
// each observer still costs a registry entry and a push per change, so a
// client that never unsubscribes would otherwise grow without bound.
// A limit of zero disables the check.
type observerQuota struct {
	limit int
}

// check returns a QuotaExceededError if a connection that already holds
// current observers may not add another.
func (q observerQuota) check(connID string, current int) error {
	if q.limit <= 0 || current < q.limit {
		return nil
	}
	return &QuotaExceededError{
		ConnID:    connID,
		Observers: current,
		Limit:     q.limit,
	}
}

// QuotaExceededError is returned (wrapped in a RESOURCE_EXHAUSTED apperr)
// when a connection is at its observer limit. The connection stays open;
// the client may unsubscribe and retry.
type QuotaExceededError struct {
	ConnID    string
	Observers int
	Limit     int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("connection %s holds %d observers (limit %d)", e.ConnID, e.Observers, e.Limit)
}

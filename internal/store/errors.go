package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by writes that target a missing document.
var ErrNotFound = errors.New("document not found")

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("write in read-only transaction")

// UniqueViolationError reports that an insert or replace would give a
// unique index key a second document. ExistingID is the current holder, so
// callers racing to create the same record can return the winner.
type UniqueViolationError struct {
	Table      string
	Index      string
	Key        string
	ExistingID string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique index %s.%s: key %s already held by %s", e.Table, e.Index, e.Key, e.ExistingID)
}

// IsUniqueViolation reports whether err is a unique index violation and
// returns it. Uses errors.As to handle wrapped errors.
func IsUniqueViolation(err error) (*UniqueViolationError, bool) {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv, true
	}
	return nil, false
}

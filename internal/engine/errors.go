package engine

import (
	"errors"

	"github.com/roach88/livechat/internal/store"
)

// ErrConnClosed is returned by Conn implementations whose connection has
// gone away. The engine treats it like any other push failure.
var ErrConnClosed = errors.New("connection closed")

// IsConflict reports whether err is a unique-index race lost to another
// writer. Handlers resolve these by returning the winner.
func IsConflict(err error) (existingID string, ok bool) {
	uv, ok := store.IsUniqueViolation(err)
	if !ok {
		return "", false
	}
	return uv.ExistingID, true
}

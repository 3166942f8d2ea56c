package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/store"
)

// Identity is a caller identity already verified by the boundary layer.
type Identity struct {
	TokenIdentifier string `json:"tokenIdentifier"`
	Name            string `json:"name,omitempty"`
	PictureURL      string `json:"pictureUrl,omitempty"`
	Email           string `json:"email,omitempty"`
}

// Caller is threaded into every handler. Identity is nil for
// unauthenticated calls; UserID is empty until the identity has been
// resolved to a user record.
type Caller struct {
	Identity *Identity
	UserID   string
}

// Anonymous is the caller of an unauthenticated request.
var Anonymous = Caller{}

// RequireUser returns the caller's user id or an Unauthorized error.
func (c Caller) RequireUser() (string, error) {
	if c.UserID == "" {
		return "", apperr.Unauthorized("not authenticated")
	}
	return c.UserID, nil
}

// Handler implements one named operation. The returned value is encoded
// with encoding/json. Query handlers receive a read-only Tx.
type Handler func(ctx context.Context, tx *store.Tx, caller Caller, args json.RawMessage) (any, error)

// QueryDef declares a named query.
type QueryDef struct {
	Name    string
	Handler Handler
	// Poll marks the query as time-dependent: subscriptions are refreshed
	// every Poll and fetch-once results are cached for Poll.
	Poll time.Duration
}

// MutationDef declares a named mutation.
type MutationDef struct {
	Name    string
	Handler Handler
}

// Update is a result delivered to an observer.
type Update struct {
	ObserverID string          `json:"observerId"`
	Query      string          `json:"query"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *apperr.Error   `json:"error,omitempty"`
	Snapshot   int64           `json:"snapshot"`
}

// Conn is the engine's view of a client connection. Push must not block
// for long; implementations queue the update and return.
type Conn interface {
	ID() string
	Push(Update) error
}

// Subscribed is returned by Subscribe.
type Subscribed struct {
	ObserverID string
	Result     json.RawMessage
	Snapshot   int64
}

// Args decodes handler arguments. Empty input decodes as {}.
func Args[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperr.Wrap(apperr.CodeInvalidArgument, "invalid arguments", err)
	}
	return v, nil
}

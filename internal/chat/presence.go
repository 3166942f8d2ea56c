package chat

import (
	"context"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// heartbeat records that the caller is online now.
func (m *Module) heartbeat(_ context.Context, tx *store.Tx, caller engine.Caller, _ noArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	existing, ok, err := first[Presence](tx, tablePresence, "by_user", me)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, tx.Patch(tablePresence, existing.ID, map[string]any{"lastSeen": tx.Wall()})
	}
	_, err = tx.Insert(tablePresence, Presence{UserID: me, LastSeen: tx.Wall()})
	return nil, err
}

// onlineUsers returns the ids of users seen within the online window.
func (m *Module) onlineUsers(_ context.Context, tx *store.Tx, _ engine.Caller, _ noArgs) (any, error) {
	docs, err := tx.Scan(tablePresence)
	if err != nil {
		return nil, err
	}
	rows, err := decodeAll[Presence](tablePresence, docs)
	if err != nil {
		return nil, err
	}
	cutoff := tx.Wall() - m.policy.OnlineWindow.Milliseconds()
	out := []string{}
	for _, p := range rows {
		if p.LastSeen >= cutoff {
			out = append(out, p.UserID)
		}
	}
	return out, nil
}

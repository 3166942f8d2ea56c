package chat

import (
	"context"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// togglePin pins or unpins a conversation for the caller and returns
// whether it is pinned afterwards.
func (m *Module) togglePin(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	if _, err := m.conversation(tx, args.ConversationID); err != nil {
		return nil, err
	}
	existing, ok, err := first[Pin](tx, tablePins, "by_user_conversation", me, args.ConversationID)
	if err != nil {
		return nil, err
	}
	if ok {
		return false, tx.Delete(tablePins, existing.ID)
	}
	if _, err := tx.Insert(tablePins, Pin{UserID: me, ConversationID: args.ConversationID}); err != nil {
		return nil, err
	}
	return true, nil
}

// pinnedIDs returns the ids of conversations the caller has pinned.
func (m *Module) pinnedIDs(_ context.Context, tx *store.Tx, caller engine.Caller, _ noArgs) (any, error) {
	out := []string{}
	if caller.UserID == "" {
		return out, nil
	}
	pins, err := lookup[Pin](tx, tablePins, "by_user", caller.UserID)
	if err != nil {
		return nil, err
	}
	for _, p := range pins {
		out = append(out, p.ConversationID)
	}
	return out, nil
}

package chat

import (
	"context"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// setTyping records that the caller is typing in a conversation.
func (m *Module) setTyping(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	if _, err := m.memberConversation(tx, args.ConversationID, me); err != nil {
		return nil, err
	}
	existing, ok, err := first[Typing](tx, tableTyping, "by_conversation_user", args.ConversationID, me)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, tx.Patch(tableTyping, existing.ID, map[string]any{"lastTyped": tx.Wall()})
	}
	_, err = tx.Insert(tableTyping, Typing{ConversationID: args.ConversationID, UserID: me, LastTyped: tx.Wall()})
	return nil, err
}

// typingUsers returns the profiles of other users typing in a
// conversation within the typing window.
func (m *Module) typingUsers(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	if caller.UserID == "" {
		return []Profile{}, nil
	}
	rows, err := lookup[Typing](tx, tableTyping, "by_conversation", args.ConversationID)
	if err != nil {
		return nil, err
	}
	cutoff := tx.Wall() - m.policy.TypingWindow.Milliseconds()
	var ids []string
	for _, t := range rows {
		if t.UserID != caller.UserID && t.LastTyped >= cutoff {
			ids = append(ids, t.UserID)
		}
	}
	return profiles(tx, ids)
}

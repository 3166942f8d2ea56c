package chat

import (
	"context"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// markRead moves the caller's read cursor for a conversation to now.
func (m *Module) markRead(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	if _, err := m.conversation(tx, args.ConversationID); err != nil {
		return nil, err
	}
	existing, ok, err := first[ReadCursor](tx, tableLastRead, "by_conversation_user", args.ConversationID, me)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, tx.Patch(tableLastRead, existing.ID, map[string]any{"readTime": tx.Now()})
	}
	_, err = tx.Insert(tableLastRead, ReadCursor{ConversationID: args.ConversationID, UserID: me, ReadTime: tx.Now()})
	return nil, err
}

// unreadCount counts messages from others created after the caller's
// read cursor. Without a cursor every message from others is unread.
func (m *Module) unreadCount(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	if caller.UserID == "" {
		return 0, nil
	}
	var readTime int64
	cursor, ok, err := first[ReadCursor](tx, tableLastRead, "by_conversation_user", args.ConversationID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if ok {
		readTime = cursor.ReadTime
	}
	msgs, err := lookup[Message](tx, tableMessages, "by_conversation", args.ConversationID)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, msg := range msgs {
		if msg.SenderID != caller.UserID && msg.CreationTime > readTime {
			n++
		}
	}
	return n, nil
}

// readers returns the users other than the caller and the sender who
// have read the conversation's last message.
func (m *Module) readers(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	if caller.UserID == "" {
		return []Profile{}, nil
	}
	c, err := m.conversation(tx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	last, ok, err := get[Message](tx, tableMessages, c.LastMessageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Profile{}, nil
	}
	cursors, err := lookup[ReadCursor](tx, tableLastRead, "by_conversation", args.ConversationID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, rc := range cursors {
		if rc.UserID == caller.UserID || rc.UserID == last.SenderID {
			continue
		}
		if rc.ReadTime >= last.CreationTime {
			ids = append(ids, rc.UserID)
		}
	}
	return profiles(tx, ids)
}

package chat

import (
	"context"
	"strconv"
	"strings"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// DeletedPlaceholder replaces the content of deleted messages on every
// read path.
const DeletedPlaceholder = "This message was deleted"

func publicMessage(msg Message) Message {
	if msg.Deleted {
		msg.Content = DeletedPlaceholder
	}
	return msg
}

type sendArgs struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// sendMessage appends a message and advances the conversation's
// lastMessageId in the same transaction.
func (m *Module) sendMessage(_ context.Context, tx *store.Tx, caller engine.Caller, args sendArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Content) == "" {
		return nil, apperr.InvalidArg("message content is required")
	}
	if _, err := m.memberConversation(tx, args.ConversationID, me); err != nil {
		return nil, err
	}
	id, err := tx.Insert(tableMessages, Message{
		ConversationID: args.ConversationID,
		SenderID:       me,
		Content:        args.Content,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Patch(tableConversations, args.ConversationID, map[string]any{"lastMessageId": id}); err != nil {
		return nil, err
	}
	return id, nil
}

// listMessages returns every message of a conversation in creation order.
func (m *Module) listMessages(_ context.Context, tx *store.Tx, caller engine.Caller, args conversationArgs) (any, error) {
	out := []Message{}
	if caller.UserID == "" {
		return out, nil
	}
	if _, err := m.memberConversation(tx, args.ConversationID, caller.UserID); err != nil {
		return nil, err
	}
	msgs, err := lookup[Message](tx, tableMessages, "by_conversation", args.ConversationID)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		out = append(out, publicMessage(msg))
	}
	return out, nil
}

type listPageArgs struct {
	ConversationID string `json:"conversationId"`
	Cursor         string `json:"cursor,omitempty"`
	NumItems       int    `json:"numItems,omitempty"`
}

// MessagePage is one page of messages, oldest first within the page.
// Pass ContinueCursor back to fetch the next older page.
type MessagePage struct {
	Page           []Message `json:"page"`
	ContinueCursor string    `json:"continueCursor"`
	IsDone         bool      `json:"isDone"`
}

// listMessagePage pages backwards from the newest message.
func (m *Module) listMessagePage(_ context.Context, tx *store.Tx, caller engine.Caller, args listPageArgs) (any, error) {
	if caller.UserID == "" {
		return MessagePage{Page: []Message{}, IsDone: true}, nil
	}
	if _, err := m.memberConversation(tx, args.ConversationID, caller.UserID); err != nil {
		return nil, err
	}
	limit := args.NumItems
	if limit <= 0 {
		limit = m.policy.PageSize
	}
	if limit > m.policy.MaxPageSize {
		limit = m.policy.MaxPageSize
	}
	var before int64
	if args.Cursor != "" {
		n, err := strconv.ParseInt(args.Cursor, 10, 64)
		if err != nil || n <= 0 {
			return nil, apperr.InvalidArg("invalid cursor")
		}
		before = n
	}

	docs, more, err := tx.LookupPage(tableMessages, "by_conversation", []any{args.ConversationID}, store.Page{Before: before, Limit: limit})
	if err != nil {
		return nil, err
	}
	page := MessagePage{Page: make([]Message, len(docs)), IsDone: !more}
	for i, doc := range docs {
		var msg Message
		if err := doc.Decode(&msg); err != nil {
			return nil, err
		}
		page.Page[len(docs)-1-i] = publicMessage(msg)
	}
	if len(docs) > 0 {
		page.ContinueCursor = strconv.FormatInt(docs[len(docs)-1].CreatedSeq, 10)
	}
	return page, nil
}

type editArgs struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// editMessage replaces the content of the caller's own message.
func (m *Module) editMessage(_ context.Context, tx *store.Tx, caller engine.Caller, args editArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	msg, err := m.ownMessage(tx, args.MessageID, me)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(args.Content)
	if content == "" {
		return nil, apperr.InvalidArg("message content cannot be empty")
	}
	if msg.Deleted {
		return nil, apperr.InvalidArg("cannot edit a deleted message")
	}
	err = tx.Patch(tableMessages, msg.ID, map[string]any{
		"content":  content,
		"editedAt": tx.Now(),
	})
	return nil, err
}

type messageArgs struct {
	MessageID string `json:"messageId"`
}

// deleteMessage soft-deletes the caller's own message. Deleting twice is
// a no-op.
func (m *Module) deleteMessage(_ context.Context, tx *store.Tx, caller engine.Caller, args messageArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	msg, err := m.ownMessage(tx, args.MessageID, me)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, nil
	}
	return nil, tx.Patch(tableMessages, msg.ID, map[string]any{"deleted": true})
}

func (m *Module) ownMessage(tx *store.Tx, id, userID string) (Message, error) {
	msg, ok, err := get[Message](tx, tableMessages, id)
	if err != nil {
		return msg, err
	}
	if !ok {
		return msg, apperr.NotFound("message not found")
	}
	if msg.SenderID != userID {
		return msg, apperr.Forbidden("you can only change your own messages")
	}
	return msg, nil
}

package chat

import (
	"fmt"

	"github.com/roach88/livechat/internal/engine"
)

// Module holds the chat handlers and their policy.
type Module struct {
	policy Policy
}

// New returns a module with zero policy fields defaulted.
func New(policy Policy) *Module {
	return &Module{policy: policy.withDefaults()}
}

// Policy returns the effective policy.
func (m *Module) Policy() Policy {
	return m.policy
}

// Queries lists the module's query definitions.
func (m *Module) Queries() []engine.QueryDef {
	poll := m.policy.PollInterval
	return []engine.QueryDef{
		{Name: "users:current", Handler: handle(m.currentUser)},
		{Name: "users:search", Handler: handle(m.searchUsers)},
		{Name: "conversations:list", Handler: handle(m.listConversations)},
		{Name: "conversations:getMembers", Handler: handle(m.getMembers)},
		{Name: "messages:list", Handler: handle(m.listMessages)},
		{Name: "messages:listPage", Handler: handle(m.listMessagePage)},
		{Name: "messages:search", Handler: handle(m.searchMessages)},
		{Name: "reactions:listForMessage", Handler: handle(m.listReactions)},
		{Name: "presence:getOnlineUsers", Handler: handle(m.onlineUsers), Poll: poll},
		{Name: "typing:getTypingUsers", Handler: handle(m.typingUsers), Poll: poll},
		{Name: "readCursors:getUnreadCount", Handler: handle(m.unreadCount)},
		{Name: "readCursors:getReaders", Handler: handle(m.readers)},
		{Name: "pins:getPinnedIds", Handler: handle(m.pinnedIDs)},
	}
}

// Mutations lists the module's mutation definitions.
func (m *Module) Mutations() []engine.MutationDef {
	return []engine.MutationDef{
		{Name: "users:store", Handler: handle(m.storeUser)},
		{Name: "conversations:getOrCreate", Handler: handle(m.getOrCreateConversation)},
		{Name: "conversations:createGroup", Handler: handle(m.createGroup)},
		{Name: "messages:send", Handler: handle(m.sendMessage)},
		{Name: "messages:edit", Handler: handle(m.editMessage)},
		{Name: "messages:delete", Handler: handle(m.deleteMessage)},
		{Name: "reactions:toggle", Handler: handle(m.toggleReaction)},
		{Name: "presence:heartbeat", Handler: handle(m.heartbeat)},
		{Name: "typing:set", Handler: handle(m.setTyping)},
		{Name: "readCursors:markRead", Handler: handle(m.markRead)},
		{Name: "pins:toggle", Handler: handle(m.togglePin)},
	}
}

// Register installs every chat operation on e.
func Register(e *engine.Engine, policy Policy) error {
	m := New(policy)
	for _, def := range m.Queries() {
		if err := e.RegisterQuery(def); err != nil {
			return fmt.Errorf("register chat: %w", err)
		}
	}
	for _, def := range m.Mutations() {
		if err := e.RegisterMutation(def); err != nil {
			return fmt.Errorf("register chat: %w", err)
		}
	}
	return nil
}

package chat

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// pairKey identifies the DM between two users regardless of order.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type getOrCreateArgs struct {
	OtherUserID string `json:"otherUserId"`
}

// getOrCreateConversation returns the DM between the caller and another
// user, creating it if needed. At most one DM exists per pair.
func (m *Module) getOrCreateConversation(_ context.Context, tx *store.Tx, caller engine.Caller, args getOrCreateArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	if args.OtherUserID == "" {
		return nil, apperr.InvalidArg("otherUserId is required")
	}
	if args.OtherUserID == me {
		return nil, apperr.InvalidArg("cannot start a conversation with yourself")
	}
	if _, ok, err := get[User](tx, tableUsers, args.OtherUserID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("user not found")
	}

	key := pairKey(me, args.OtherUserID)
	existing, ok, err := first[Conversation](tx, tableConversations, "by_pair", key)
	if err != nil {
		return nil, err
	}
	if ok {
		return existing.ID, nil
	}
	id, err := tx.Insert(tableConversations, Conversation{
		MemberIDs: []string{me, args.OtherUserID},
		PairKey:   key,
	})
	if existingID, conflict := engine.IsConflict(err); conflict {
		return existingID, nil
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

type createGroupArgs struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

// createGroup creates a named group containing the caller and the given
// members, deduplicated, caller first.
func (m *Module) createGroup(_ context.Context, tx *store.Tx, caller engine.Caller, args createGroupArgs) (any, error) {
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(args.Name)
	if name == "" {
		return nil, apperr.InvalidArg("group name is required")
	}
	members := []string{me}
	seen := map[string]bool{me: true}
	for _, id := range args.MemberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok, err := get[User](tx, tableUsers, id); err != nil {
			return nil, err
		} else if !ok {
			return nil, apperr.NotFound("user not found: " + id)
		}
		members = append(members, id)
	}
	if len(members) < 2 {
		return nil, apperr.InvalidArg("a group needs at least one other member")
	}

	return tx.Insert(tableConversations, Conversation{
		IsGroup:   true,
		Name:      name,
		MemberIDs: members,
		CreatorID: me,
	})
}

// ConversationSummary is a conversation enriched for the sidebar. The
// internal pair key is never exposed.
type ConversationSummary struct {
	Conversation
	OtherUser   *Profile `json:"otherUser"`
	MemberCount int      `json:"memberCount"`
	LastMessage *Message `json:"lastMessage"`
}

func (s ConversationSummary) activity() int64 {
	if s.LastMessage != nil {
		return s.LastMessage.CreationTime
	}
	return s.CreationTime
}

// listConversations returns the caller's conversations, most recently
// active first.
func (m *Module) listConversations(_ context.Context, tx *store.Tx, caller engine.Caller, _ noArgs) (any, error) {
	out := []ConversationSummary{}
	if caller.UserID == "" {
		return out, nil
	}
	convs, err := lookup[Conversation](tx, tableConversations, "by_member", caller.UserID)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		c.PairKey = ""
		s := ConversationSummary{Conversation: c, MemberCount: len(c.MemberIDs)}
		if msg, ok, err := get[Message](tx, tableMessages, c.LastMessageID); err != nil {
			return nil, err
		} else if ok {
			msg = publicMessage(msg)
			s.LastMessage = &msg
		}
		if !c.IsGroup {
			other, ok, err := get[User](tx, tableUsers, c.otherMember(caller.UserID))
			if err != nil {
				return nil, err
			}
			if ok {
				p := other.Profile()
				s.OtherUser = &p
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].activity() > out[j].activity()
	})
	return out, nil
}

type conversationArgs struct {
	ConversationID string `json:"conversationId"`
}

// getMembers returns the profiles of a conversation's members.
func (m *Module) getMembers(_ context.Context, tx *store.Tx, _ engine.Caller, args conversationArgs) (any, error) {
	c, err := m.conversation(tx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	return profiles(tx, c.MemberIDs)
}

// conversation loads a conversation or fails with NotFound.
func (m *Module) conversation(tx *store.Tx, id string) (Conversation, error) {
	c, ok, err := get[Conversation](tx, tableConversations, id)
	if err != nil {
		return c, err
	}
	if !ok {
		return c, apperr.NotFound("conversation not found")
	}
	return c, nil
}

// memberConversation loads a conversation and checks the caller belongs
// to it.
func (m *Module) memberConversation(tx *store.Tx, id, userID string) (Conversation, error) {
	c, err := m.conversation(tx, id)
	if err != nil {
		return c, err
	}
	if !c.hasMember(userID) {
		return c, apperr.Forbidden("not a member of this conversation")
	}
	return c, nil
}

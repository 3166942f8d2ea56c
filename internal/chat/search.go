package chat

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

const minSearchTerm = 2

// SearchResult is one message matched by messages:search.
type SearchResult struct {
	MessageID        string `json:"messageId"`
	ConversationID   string `json:"conversationId"`
	ConversationName string `json:"conversationName"`
	IsGroup          bool   `json:"isGroup"`
	Content          string `json:"content"`
	SenderName       string `json:"senderName"`
	IsMe             bool   `json:"isMe"`
	CreationTime     int64  `json:"creationTime"`
}

type searchArgs struct {
	SearchTerm string `json:"searchTerm"`
}

// searchMessages finds non-deleted messages containing the term across
// the caller's conversations, newest first.
func (m *Module) searchMessages(_ context.Context, tx *store.Tx, caller engine.Caller, args searchArgs) (any, error) {
	out := []SearchResult{}
	if caller.UserID == "" {
		return out, nil
	}
	term := strings.TrimSpace(args.SearchTerm)
	if utf8.RuneCountInString(term) < minSearchTerm {
		return out, nil
	}
	fold := cases.Fold()
	term = fold.String(term)

	convs, err := lookup[Conversation](tx, tableConversations, "by_member", caller.UserID)
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	userName := func(id string) (string, error) {
		if n, ok := names[id]; ok {
			return n, nil
		}
		u, ok, err := get[User](tx, tableUsers, id)
		if err != nil {
			return "", err
		}
		n := "Unknown"
		if ok {
			n = u.Name
		}
		names[id] = n
		return n, nil
	}

	for _, c := range convs {
		msgs, err := lookup[Message](tx, tableMessages, "by_conversation", c.ID)
		if err != nil {
			return nil, err
		}
		var convName string
		for _, msg := range msgs {
			if msg.Deleted || !strings.Contains(fold.String(msg.Content), term) {
				continue
			}
			if convName == "" {
				if convName, err = m.conversationName(c, caller.UserID, userName); err != nil {
					return nil, err
				}
			}
			sender, err := userName(msg.SenderID)
			if err != nil {
				return nil, err
			}
			out = append(out, SearchResult{
				MessageID:        msg.ID,
				ConversationID:   c.ID,
				ConversationName: convName,
				IsGroup:          c.IsGroup,
				Content:          msg.Content,
				SenderName:       sender,
				IsMe:             msg.SenderID == caller.UserID,
				CreationTime:     msg.CreationTime,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationTime > out[j].CreationTime
	})
	if len(out) > m.policy.SearchLimit {
		out = out[:m.policy.SearchLimit]
	}
	return out, nil
}

// conversationName is the group name, or the other member's name for a DM.
func (m *Module) conversationName(c Conversation, me string, userName func(string) (string, error)) (string, error) {
	if c.IsGroup {
		if c.Name != "" {
			return c.Name, nil
		}
		return "Group Chat", nil
	}
	return userName(c.otherMember(me))
}

package chat

import (
	"github.com/roach88/livechat/internal/store"
)

// Table names.
const (
	tableUsers         = "users"
	tableConversations = "conversations"
	tableMessages      = "messages"
	tableReactions     = "reactions"
	tablePresence      = "presence"
	tableTyping        = "typing"
	tableLastRead      = "lastRead"
	tablePins          = "pins"
)

// Schema returns the store schema for the chat tables.
func Schema() *store.Schema {
	return store.MustSchema(
		store.Table{Name: tableUsers, Indexes: []store.Index{
			{Name: "by_token", Fields: []string{"tokenIdentifier"}, Unique: true},
		}},
		store.Table{Name: tableConversations, Indexes: []store.Index{
			{Name: "by_member", Fields: []string{"memberIds"}},
			{Name: "by_pair", Fields: []string{"pairKey"}, Unique: true},
		}},
		store.Table{Name: tableMessages, Indexes: []store.Index{
			{Name: "by_conversation", Fields: []string{"conversationId"}},
		}},
		store.Table{Name: tableReactions, Indexes: []store.Index{
			{Name: "by_message", Fields: []string{"messageId"}},
			{Name: "by_message_user_emoji", Fields: []string{"messageId", "userId", "emoji"}, Unique: true},
		}},
		store.Table{Name: tablePresence, Indexes: []store.Index{
			{Name: "by_user", Fields: []string{"userId"}, Unique: true},
		}},
		store.Table{Name: tableTyping, Indexes: []store.Index{
			{Name: "by_conversation", Fields: []string{"conversationId"}},
			{Name: "by_conversation_user", Fields: []string{"conversationId", "userId"}, Unique: true},
		}},
		store.Table{Name: tableLastRead, Indexes: []store.Index{
			{Name: "by_conversation", Fields: []string{"conversationId"}},
			{Name: "by_conversation_user", Fields: []string{"conversationId", "userId"}, Unique: true},
		}},
		store.Table{Name: tablePins, Indexes: []store.Index{
			{Name: "by_user", Fields: []string{"userId"}},
			{Name: "by_user_conversation", Fields: []string{"userId", "conversationId"}, Unique: true},
		}},
	)
}

// User is an identity-backed profile.
type User struct {
	ID              string `json:"_id,omitempty"`
	CreationTime    int64  `json:"_creationTime,omitempty"`
	Name            string `json:"name"`
	TokenIdentifier string `json:"tokenIdentifier"`
	ImageURL        string `json:"imageUrl,omitempty"`
	Email           string `json:"email,omitempty"`
}

// Profile is the public view of a user.
type Profile struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

func (u User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, ImageURL: u.ImageURL}
}

// Conversation is a DM (exactly two members) or a named group.
// PairKey is set on DMs only and is unique per unordered member pair.
type Conversation struct {
	ID            string   `json:"_id,omitempty"`
	CreationTime  int64    `json:"_creationTime,omitempty"`
	IsGroup       bool     `json:"isGroup"`
	Name          string   `json:"name,omitempty"`
	MemberIDs     []string `json:"memberIds"`
	CreatorID     string   `json:"creatorId,omitempty"`
	LastMessageID string   `json:"lastMessageId,omitempty"`
	PairKey       string   `json:"pairKey,omitempty"`
}

func (c Conversation) hasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// otherMember returns the first member that is not userID.
func (c Conversation) otherMember(userID string) string {
	for _, id := range c.MemberIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

type Message struct {
	ID             string `json:"_id,omitempty"`
	CreationTime   int64  `json:"_creationTime,omitempty"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	Deleted        bool   `json:"deleted"`
	EditedAt       int64  `json:"editedAt,omitempty"`
}

type Reaction struct {
	ID        string `json:"_id,omitempty"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type Presence struct {
	ID       string `json:"_id,omitempty"`
	UserID   string `json:"userId"`
	LastSeen int64  `json:"lastSeen"`
}

type Typing struct {
	ID             string `json:"_id,omitempty"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	LastTyped      int64  `json:"lastTyped"`
}

// ReadCursor marks how far a user has read a conversation.
type ReadCursor struct {
	ID             string `json:"_id,omitempty"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ReadTime       int64  `json:"readTime"`
}

type Pin struct {
	ID             string `json:"_id,omitempty"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

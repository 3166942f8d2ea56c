package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livechat/internal/apperr"
)

func TestPresence_OnlineWindow(t *testing.T) {
	e := setup(t)
	alice, bob := e.user("alice"), e.user("bob")

	e.mutate(alice, "presence:heartbeat", nil, nil)
	e.mutate(bob, "presence:heartbeat", nil, nil)

	var online []string
	e.query(alice, "presence:getOnlineUsers", nil, &online)
	assert.ElementsMatch(t, []string{alice.UserID, bob.UserID}, online)

	e.f.Clock.Advance(45 * time.Second)
	e.mutate(bob, "presence:heartbeat", nil, nil)
	e.f.Clock.Advance(20 * time.Second)

	e.query(alice, "presence:getOnlineUsers", nil, &online)
	assert.Equal(t, []string{bob.UserID}, online)

	e.f.Clock.Advance(time.Minute)
	e.query(alice, "presence:getOnlineUsers", nil, &online)
	assert.Empty(t, online)
}

func TestPresence_WindowIgnoresWriteBursts(t *testing.T) {
	e := setup(t)
	alice, bob := e.user("alice"), e.user("bob")
	for i := 0; i < 50; i++ {
		e.mutate(alice, "presence:heartbeat", nil, nil)
	}

	var online []string
	e.f.Clock.Advance(60 * time.Second)
	e.query(alice, "presence:getOnlineUsers", nil, &online)
	assert.Equal(t, []string{alice.UserID}, online, "window edge is inclusive")

	// A different caller, so the poll cache cannot answer.
	e.f.Clock.Advance(10 * time.Millisecond)
	e.query(bob, "presence:getOnlineUsers", nil, &online)
	assert.Empty(t, online)
}

func TestTyping_WindowIgnoresWriteBursts(t *testing.T) {
	e := setup(t)
	alice, bob, carol := e.user("alice"), e.user("bob"), e.user("carol")
	conv := e.dm(alice, bob)
	for i := 0; i < 50; i++ {
		e.send(alice, conv, "burst")
	}
	e.mutate(bob, "typing:set", conversationArgs{ConversationID: conv}, nil)

	var typing []Profile
	e.f.Clock.Advance(3 * time.Second)
	e.query(alice, "typing:getTypingUsers", conversationArgs{ConversationID: conv}, &typing)
	assert.Len(t, typing, 1)

	e.f.Clock.Advance(10 * time.Millisecond)
	e.query(carol, "typing:getTypingUsers", conversationArgs{ConversationID: conv}, &typing)
	assert.Empty(t, typing)
}

func TestTyping_WindowAndExcludesCaller(t *testing.T) {
	e := setup(t)
	alice, bob := e.user("alice"), e.user("bob")
	conv := e.dm(alice, bob)

	e.mutate(alice, "typing:set", conversationArgs{ConversationID: conv}, nil)
	e.mutate(bob, "typing:set", conversationArgs{ConversationID: conv}, nil)

	var typing []Profile
	e.query(alice, "typing:getTypingUsers", conversationArgs{ConversationID: conv}, &typing)
	require.Len(t, typing, 1)
	assert.Equal(t, "bob", typing[0].Name)

	e.f.Clock.Advance(4 * time.Second)
	e.query(alice, "typing:getTypingUsers", conversationArgs{ConversationID: conv}, &typing)
	assert.Empty(t, typing)

	e.mutate(bob, "typing:set", conversationArgs{ConversationID: conv}, nil)
	e.f.Clock.Advance(2500 * time.Millisecond)
	e.query(alice, "typing:getTypingUsers", conversationArgs{ConversationID: conv}, &typing)
	assert.Len(t, typing, 1, "refreshed typing row is live again")
}

func TestTyping_NonMemberForbidden(t *testing.T) {
	e := setup(t)
	alice, bob, mallory := e.user("alice"), e.user("bob"), e.user("mallory")
	conv := e.dm(alice, bob)

	_, err := e.mutateErr(mallory, "typing:set", conversationArgs{ConversationID: conv})
	assertCode(t, err, apperr.CodeForbidden)
}

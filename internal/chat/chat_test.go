package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/testutil"
)

type env struct {
	t *testing.T
	f *testutil.Fixture
}

func setup(t *testing.T) *env {
	t.Helper()
	f := testutil.NewFixture(t, Schema())
	require.NoError(t, Register(f.Engine, DefaultPolicy()))
	return &env{t: t, f: f}
}

// user signs in a new identity and returns its resolved caller.
func (e *env) user(name string) engine.Caller {
	e.t.Helper()
	caller, err := ResolveCaller(context.Background(), e.f.Engine, &engine.Identity{
		TokenIdentifier: "https://auth.test|" + name,
		Name:            name,
	})
	require.NoError(e.t, err)
	require.NotEmpty(e.t, caller.UserID)
	return caller
}

func (e *env) mutateErr(caller engine.Caller, name string, args any) (json.RawMessage, error) {
	e.t.Helper()
	return e.f.Engine.Mutate(context.Background(), caller, name, mustJSON(e.t, args))
}

func (e *env) mutate(caller engine.Caller, name string, args any, dst any) {
	e.t.Helper()
	out, err := e.mutateErr(caller, name, args)
	require.NoError(e.t, err, name)
	if dst != nil {
		require.NoError(e.t, json.Unmarshal(out, dst))
	}
}

func (e *env) queryErr(caller engine.Caller, name string, args any) (json.RawMessage, error) {
	e.t.Helper()
	return e.f.Engine.Query(context.Background(), caller, name, mustJSON(e.t, args))
}

func (e *env) query(caller engine.Caller, name string, args any, dst any) {
	e.t.Helper()
	out, err := e.queryErr(caller, name, args)
	require.NoError(e.t, err, name)
	require.NoError(e.t, json.Unmarshal(out, dst))
}

func (e *env) dm(a, b engine.Caller) string {
	e.t.Helper()
	var id string
	e.mutate(a, "conversations:getOrCreate", map[string]string{"otherUserId": b.UserID}, &id)
	return id
}

func (e *env) send(from engine.Caller, conversationID, content string) string {
	e.t.Helper()
	var id string
	e.mutate(from, "messages:send", sendArgs{ConversationID: conversationID, Content: content}, &id)
	return id
}

func (e *env) messages(caller engine.Caller, conversationID string) []Message {
	e.t.Helper()
	var msgs []Message
	e.query(caller, "messages:list", conversationArgs{ConversationID: conversationID}, &msgs)
	return msgs
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func assertCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperr.CodeOf(err), "error: %v", err)
}

// recordingConn captures pushed updates.
type recordingConn struct {
	id      string
	mu      sync.Mutex
	updates []engine.Update
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Push(u engine.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return nil
}

func (c *recordingConn) last() (engine.Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.updates) == 0 {
		return engine.Update{}, false
	}
	return c.updates[len(c.updates)-1], true
}

func (c *recordingConn) waitFor(t *testing.T, want json.RawMessage) {
	t.Helper()
	require.Eventually(t, func() bool {
		u, ok := c.last()
		return ok && string(u.Result) == string(want)
	}, 2*time.Second, 5*time.Millisecond, "no update matching %s", want)
}

func TestRegister_AllOperations(t *testing.T) {
	e := setup(t)

	assert.Equal(t, []string{
		"conversations:getMembers",
		"conversations:list",
		"messages:list",
		"messages:listPage",
		"messages:search",
		"pins:getPinnedIds",
		"presence:getOnlineUsers",
		"reactions:listForMessage",
		"readCursors:getReaders",
		"readCursors:getUnreadCount",
		"typing:getTypingUsers",
		"users:current",
		"users:search",
	}, e.f.Engine.Queries())
	assert.Equal(t, []string{
		"conversations:createGroup",
		"conversations:getOrCreate",
		"messages:delete",
		"messages:edit",
		"messages:send",
		"pins:toggle",
		"presence:heartbeat",
		"reactions:toggle",
		"readCursors:markRead",
		"typing:set",
		"users:store",
	}, e.f.Engine.Mutations())
}

func TestRegister_Twice(t *testing.T) {
	e := setup(t)
	err := Register(e.f.Engine, DefaultPolicy())
	require.Error(t, err)
}

func TestPolicy_Defaults(t *testing.T) {
	p := New(Policy{TypingWindow: time.Second}).Policy()

	assert.Equal(t, time.Second, p.TypingWindow)
	assert.Equal(t, 60*time.Second, p.OnlineWindow)
	assert.Equal(t, 50, p.SearchLimit)
}

func TestUnauthenticated_MutationsRejected(t *testing.T) {
	e := setup(t)
	alice := e.user("alice")
	conv := e.dm(alice, e.user("bob"))
	msg := e.send(alice, conv, "hi")

	cases := []struct {
		name string
		args any
	}{
		{"conversations:getOrCreate", map[string]string{"otherUserId": alice.UserID}},
		{"conversations:createGroup", createGroupArgs{Name: "g", MemberIDs: []string{alice.UserID}}},
		{"messages:send", sendArgs{ConversationID: conv, Content: "x"}},
		{"messages:edit", editArgs{MessageID: msg, Content: "x"}},
		{"messages:delete", messageArgs{MessageID: msg}},
		{"reactions:toggle", toggleReactionArgs{MessageID: msg, Emoji: Emojis[0]}},
		{"presence:heartbeat", nil},
		{"typing:set", conversationArgs{ConversationID: conv}},
		{"readCursors:markRead", conversationArgs{ConversationID: conv}},
		{"pins:toggle", conversationArgs{ConversationID: conv}},
		{"users:store", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.mutateErr(engine.Anonymous, tc.name, tc.args)
			assertCode(t, err, apperr.CodeUnauthorized)
		})
	}
}

func TestUnauthenticated_QueriesReturnEmpty(t *testing.T) {
	e := setup(t)
	alice := e.user("alice")
	conv := e.dm(alice, e.user("bob"))
	e.send(alice, conv, "hello")

	cases := []struct {
		name string
		args any
		want string
	}{
		{"users:current", nil, `null`},
		{"users:search", searchUsersArgs{}, `[]`},
		{"conversations:list", nil, `[]`},
		{"messages:list", conversationArgs{ConversationID: conv}, `[]`},
		{"messages:search", searchArgs{SearchTerm: "hello"}, `[]`},
		{"typing:getTypingUsers", conversationArgs{ConversationID: conv}, `[]`},
		{"readCursors:getUnreadCount", conversationArgs{ConversationID: conv}, `0`},
		{"readCursors:getReaders", conversationArgs{ConversationID: conv}, `[]`},
		{"pins:getPinnedIds", nil, `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.queryErr(engine.Anonymous, tc.name, tc.args)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(out))
		})
	}
}

func TestLive_PushEqualsFreshQuery(t *testing.T) {
	e := setup(t)
	e.f.Run(t)
	alice, bob := e.user("alice"), e.user("bob")
	conv := e.dm(alice, bob)

	conn := &recordingConn{id: "conn-1"}
	args := mustJSON(t, conversationArgs{ConversationID: conv})
	sub, err := e.f.Engine.Subscribe(context.Background(), conn, bob, "messages:list", args)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(sub.Result))

	e.send(alice, conv, "hi")
	fresh, err := e.f.Engine.Query(context.Background(), bob, "messages:list", args)
	require.NoError(t, err)
	conn.waitFor(t, fresh)

	var msgs []Message
	require.NoError(t, json.Unmarshal(fresh, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestLive_ConversationListFollowsNewMessages(t *testing.T) {
	e := setup(t)
	e.f.Run(t)
	alice, bob, carol := e.user("alice"), e.user("bob"), e.user("carol")
	withBob := e.dm(alice, bob)
	withCarol := e.dm(alice, carol)

	conn := &recordingConn{id: "conn-1"}
	_, err := e.f.Engine.Subscribe(context.Background(), conn, alice, "conversations:list", nil)
	require.NoError(t, err)

	e.send(carol, withCarol, "first")
	e.send(bob, withBob, "second")

	fresh, err := e.f.Engine.Query(context.Background(), alice, "conversations:list", nil)
	require.NoError(t, err)
	conn.waitFor(t, fresh)

	var list []ConversationSummary
	require.NoError(t, json.Unmarshal(fresh, &list))
	require.Len(t, list, 2)
	assert.Equal(t, withBob, list[0].ID)
	assert.Equal(t, "second", list[0].LastMessage.Content)
}

func TestLive_NewConversationJoinsList(t *testing.T) {
	e := setup(t)
	e.f.Run(t)
	alice, bob := e.user("alice"), e.user("bob")

	conn := &recordingConn{id: "conn-1"}
	sub, err := e.f.Engine.Subscribe(context.Background(), conn, bob, "conversations:list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(sub.Result))

	e.dm(alice, bob)

	fresh, err := e.f.Engine.Query(context.Background(), bob, "conversations:list", nil)
	require.NoError(t, err)
	conn.waitFor(t, fresh)
}

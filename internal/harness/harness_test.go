package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match its file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_RecordsUsersAsVariables(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "users:store", result.Trace[0].Op)
	assert.Equal(t, "users:current", result.Trace[1].Op)
	assert.Equal(t, int64(2), result.Trace[1].Seq)
	assert.Equal(t, "doc-0001", result.Vars["alice"])
	assert.Contains(t, string(result.Trace[1].Result), `"_id":"doc-0001"`)
}

func TestRun_StatusMismatchFails(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatch
description: anonymous send expected to succeed
users: [{ as: alice }, { as: bob }]
flow:
  - mutation: conversations:getOrCreate
    as: alice
    args: { otherUserId: $bob }
    save: conv
  - mutation: messages:send
    args: { conversationId: $conv, content: hi }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[1] messages:send: expected status ok, got UNAUTHORIZED")
	assert.Equal(t, "UNAUTHORIZED", result.Trace[3].Status)
}

func TestRun_ResultMismatchFails(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_result
description: unread count expectation is wrong
users: [{ as: alice }, { as: bob }]
flow:
  - mutation: conversations:getOrCreate
    as: alice
    args: { otherUserId: $bob }
    save: conv
  - mutation: messages:send
    as: bob
    args: { conversationId: $conv, content: hi }
  - query: readCursors:getUnreadCount
    as: alice
    args: { conversationId: $conv }
    expect: { result: 2 }
  - query: messages:list
    as: alice
    args: { conversationId: $conv }
    expect: { length: 3 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "result 1 does not match expected 2")
	assert.Contains(t, result.Errors[1], "expected 3 results, got 1")
}

func TestRun_UndefinedVariable(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: undefined
description: references a variable nobody saved
flow:
  - query: messages:list
    args: { conversationId: $nowhere }
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable $nowhere")
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: failing_assertions
description: every assertion type fails
users: [{ as: alice }]
flow:
  - query: users:current
    as: alice
assertions:
  - { type: trace_contains, op: messages:send }
  - { type: trace_order, ops: [users:current, users:store] }
  - { type: trace_count, op: users:current, count: 2 }
  - { type: final_state, table: users, expect: { name: Bob } }
  - { type: final_state, table: messages, count: 1 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Assertion failed: trace_contains")
	assert.Contains(t, result.Errors[1], "Assertion failed: trace_order")
	assert.Contains(t, result.Errors[2], "Expected: 2 occurrences of users:current")
	assert.Contains(t, result.Errors[3], "users where (all) to have name=\"Bob\"")
	assert.Contains(t, result.Errors[4], "0 documents")
}

func TestRun_AdvanceMovesClock(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: advance
description: typing expires
users: [{ as: alice }, { as: bob }]
flow:
  - mutation: conversations:getOrCreate
    as: alice
    args: { otherUserId: $bob }
    save: conv
  - mutation: typing:set
    as: alice
    args: { conversationId: $conv }
  - advance: 10s
  - query: typing:getTypingUsers
    as: bob
    args: { conversationId: $conv }
    expect: { length: 0 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, KindAdvance, result.Trace[4].Kind)
	assert.Equal(t, "10s", result.Trace[4].Op)
}

func TestSnapshot_OmitsResults(t *testing.T) {
	r := NewResult()
	r.record(TraceEvent{Kind: KindQuery, Op: "users:current", As: "alice", Status: StatusOK, Result: []byte(`{"_id":"doc-0001"}`)})
	r.record(TraceEvent{Kind: KindAdvance, Op: "1s"})

	data, err := Snapshot("snap", r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "doc-0001")
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
	assert.Contains(t, string(data), `"kind": "advance"`)
}

func TestScenarioFiles_HaveGolden(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		_, err := os.Stat(filepath.Join("testdata", "golden", name+".golden"))
		assert.NoError(t, err, "missing golden file for %s", name)
	}
}

package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: one query
users:
  - as: alice
flow:
  - query: users:current
    as: alice
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Users, 1)
	assert.Equal(t, "alice", s.Users[0].As)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, "users:current", s.Flow[0].Query)
	assert.Nil(t, s.Flow[0].Expect)
}

func TestParseScenario_FullStep(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: every step field
users:
  - { as: alice, name: Alice, email: a@example.com }
  - { as: bob }
flow:
  - mutation: conversations:getOrCreate
    as: alice
    args: { otherUserId: $bob }
    save: conv
    expect:
      status: ok
      result: $conv
  - advance: 1500ms
  - query: messages:list
    as: bob
    args: { conversationId: $conv }
    expect: { length: 0 }
assertions:
  - { type: trace_contains, op: conversations:getOrCreate, as: alice }
  - { type: trace_order, ops: [conversations:getOrCreate, messages:list] }
  - { type: trace_count, op: messages:list, count: 1 }
  - { type: final_state, table: conversations, count: 1 }
`))
	require.NoError(t, err)
	assert.Equal(t, "Alice", s.Users[0].Name)
	assert.Equal(t, "conv", s.Flow[0].Save)
	assert.Equal(t, map[string]any{"otherUserId": "$bob"}, s.Flow[0].Args)
	assert.Equal(t, "1500ms", s.Flow[1].Advance)
	require.NotNil(t, s.Flow[2].Expect.Length)
	assert.Equal(t, 0, *s.Flow[2].Expect.Length)
	require.Len(t, s.Assertions, 4)
	assert.Equal(t, 1, *s.Assertions[3].Count)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: y\nflows: []\n",
			want: "field flows not found",
		},
		{
			name: "missing name",
			yaml: "description: y\nflow: [{query: users:current}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nflow: [{query: users:current}]\n",
			want: "description is required",
		},
		{
			name: "empty flow",
			yaml: "name: x\ndescription: y\n",
			want: "flow list is required",
		},
		{
			name: "two operations in one step",
			yaml: "name: x\ndescription: y\nflow: [{query: a, mutation: b}]\n",
			want: "exactly one of mutation, query or advance",
		},
		{
			name: "bad advance",
			yaml: "name: x\ndescription: y\nflow: [{advance: soon}]\n",
			want: "advance must be a positive duration",
		},
		{
			name: "advance with caller",
			yaml: "name: x\ndescription: y\nusers: [{as: a}]\nflow: [{advance: 1s, as: a}]\n",
			want: "advance takes no other fields",
		},
		{
			name: "unknown user",
			yaml: "name: x\ndescription: y\nflow: [{query: users:current, as: ghost}]\n",
			want: `unknown user "ghost"`,
		},
		{
			name: "duplicate user",
			yaml: "name: x\ndescription: y\nusers: [{as: a}, {as: a}]\nflow: [{query: users:current}]\n",
			want: `duplicate user "a"`,
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: y\nflow: [{query: q}]\nassertions: [{type: trace_magic}]\n",
			want: `unknown assertion type "trace_magic"`,
		},
		{
			name: "trace_count without count",
			yaml: "name: x\ndescription: y\nflow: [{query: q}]\nassertions: [{type: trace_count, op: q}]\n",
			want: "non-negative count is required",
		},
		{
			name: "final_state without expectation",
			yaml: "name: x\ndescription: y\nflow: [{query: q}]\nassertions: [{type: final_state, table: users}]\n",
			want: "expect or count is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

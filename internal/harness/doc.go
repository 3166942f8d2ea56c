// Package harness runs chat scenarios as executable contract tests.
//
// A scenario signs in users, runs queries and mutations as them through
// the real engine, and checks each outcome and the final documents.
//
// # Scenario Format
//
//	name: direct_message
//	description: "What this scenario validates"
//	users:
//	  - as: alice
//	    name: Alice
//	  - as: bob
//	flow:
//	  - mutation: conversations:getOrCreate
//	    as: alice
//	    args: { otherUserId: $bob }
//	    save: conv
//	  - advance: 5s
//	  - query: messages:list
//	    as: bob
//	    args: { conversationId: $conv }
//	    expect:
//	      length: 1
//	      result: [{ content: hi }]
//	assertions:
//	  - type: trace_count
//	    op: messages:send
//	    count: 1
//	  - type: final_state
//	    table: conversations
//	    where: { isGroup: false }
//	    expect: { lastMessageId: $msg }
//
// Every user and every saved result becomes a variable; "$name" strings
// in args, expectations and where clauses are replaced by its value.
//
// # Assertion Types
//
//   - trace_contains: an operation appears in the trace, optionally as a user
//   - trace_order: operations appear in the given order
//   - trace_count: an operation appears exactly N times
//   - final_state: documents of a table match a subset of fields
//
// # Deterministic Testing
//
// Scenarios run against a fresh SQLite file with a fake clock and
// sequential document ids, so the trace is identical across runs and can
// be compared with a golden file (see RunWithGolden).
package harness

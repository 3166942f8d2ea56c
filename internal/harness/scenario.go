package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a set of signed-in
// users, a flow of queries and mutations run as those users, and
// assertions over the resulting trace and final documents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Users are signed in before the flow. Each becomes a $variable
	// holding the user id.
	Users []UserStep `yaml:"users"`

	// Flow contains the main test flow.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// UserStep signs in one identity.
type UserStep struct {
	// As is the variable name the flow uses to act as this user.
	As    string `yaml:"as"`
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// FlowStep is one query, mutation or clock advance. Exactly one of
// Mutation, Query and Advance is set.
type FlowStep struct {
	Mutation string `yaml:"mutation,omitempty"`
	Query    string `yaml:"query,omitempty"`

	// Advance moves the fake clock forward, e.g. "5s".
	Advance string `yaml:"advance,omitempty"`

	// As names the calling user; empty runs the step unauthenticated.
	As string `yaml:"as,omitempty"`

	// Args are the operation arguments. Strings of the form "$name"
	// are replaced by the variable's value.
	Args map[string]any `yaml:"args,omitempty"`

	// Save stores the operation's result under this variable name.
	Save string `yaml:"save,omitempty"`

	// Expect validates the step's outcome. Nil expects success.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Status is "ok" (the default) or an error code such as FORBIDDEN.
	Status string `yaml:"status,omitempty"`

	// Result is matched against the operation result. Objects match as
	// subsets; arrays must have the same length.
	Result any `yaml:"result,omitempty"`

	// Length checks the number of elements of an array result.
	Length *int `yaml:"length,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an operation appears in the trace, optionally as a user
	// - "trace_order": operations appear in order
	// - "trace_count": an operation appears exactly Count times
	// - "final_state": documents of a table match
	Type string `yaml:"type"`

	// Op is the operation name (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// As restricts trace_contains to one caller.
	As string `yaml:"as,omitempty"`

	// Ops is the expected operation order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of occurrences (trace_count) or of
	// matching documents (final_state, when set).
	Count *int `yaml:"count,omitempty"`

	// Table is the document table (final_state).
	Table string `yaml:"table,omitempty"`

	// Where filters documents by exact field values (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is matched as a subset against every filtered document.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	users := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u.As == "" {
			return fmt.Errorf("users[%d]: as is required", i)
		}
		if users[u.As] {
			return fmt.Errorf("users[%d]: duplicate user %q", i, u.As)
		}
		users[u.As] = true
	}

	for i, step := range s.Flow {
		set := 0
		for _, v := range []string{step.Mutation, step.Query, step.Advance} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("flow[%d]: exactly one of mutation, query or advance is required", i)
		}
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil || d <= 0 {
				return fmt.Errorf("flow[%d]: advance must be a positive duration, got %q", i, step.Advance)
			}
			if step.As != "" || step.Args != nil || step.Save != "" || step.Expect != nil {
				return fmt.Errorf("flow[%d]: advance takes no other fields", i)
			}
			continue
		}
		if step.As != "" && !users[step.As] {
			return fmt.Errorf("flow[%d]: unknown user %q", i, step.As)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

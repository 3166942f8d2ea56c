package harness

import "encoding/json"

// Trace event kinds.
const (
	KindMutation = "mutation"
	KindQuery    = "query"
	KindAdvance  = "advance"
)

// StatusOK marks a successful operation in the trace. Failed operations
// record their apperr code instead.
const StatusOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int64           `json:"seq"`
	Kind   string          `json:"kind"`
	Op     string          `json:"op,omitempty"`
	As     string          `json:"as,omitempty"`
	Status string          `json:"status,omitempty"`
	Result json.RawMessage `json:"-"`
	Error  string          `json:"-"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order, setup included.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Vars maps scenario variables ($alice, saved results) to values.
	Vars map[string]any `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Vars:   make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}

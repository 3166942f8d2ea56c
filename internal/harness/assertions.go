package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/livechat/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s as=%s %s\n", event.Seq, event.Kind, event.Op, event.As, event.Status)
		}
	}

	return buf.String()
}

// AssertionContext provides what state assertions read from.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx, a, result.Vars)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// isOperation reports whether the event ran a query or mutation.
func isOperation(ev TraceEvent) bool {
	return ev.Kind == KindMutation || ev.Kind == KindQuery
}

// assertTraceContains checks that the trace has the operation,
// optionally executed by a specific user.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if isOperation(event) && event.Op == assertion.Op &&
			(assertion.As == "" || event.As == assertion.As) {
			return nil
		}
	}

	expected := "operation " + assertion.Op
	if assertion.As != "" {
		expected += " as " + assertion.As
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that operations first appear in the given order.
// Intervening operations are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Ops {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if isOperation(ev) && ev.Op == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("operations in order: %v", assertion.Ops),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the operation appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if isOperation(event) && event.Op == assertion.Op {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState scans a table, filters documents with Where and
// matches every remaining document against Expect.
func assertFinalState(actx *AssertionContext, assertion Assertion, vars map[string]any) error {
	where, err := substitute(assertion.Where, vars)
	if err != nil {
		return err
	}
	expect, err := substitute(assertion.Expect, vars)
	if err != nil {
		return err
	}

	var docs []map[string]any
	_, err = actx.Store.View(actx.Ctx, func(tx *store.Tx) error {
		all, err := tx.Scan(assertion.Table)
		if err != nil {
			return err
		}
		for _, d := range all {
			fields, err := documentFields(d)
			if err != nil {
				return err
			}
			if valuesMatch(where, fields) {
				docs = append(docs, fields)
			}
		}
		return nil
	})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "scan table " + assertion.Table,
			Actual:   fmt.Sprintf("scan error: %v", err),
		}
	}

	whereDesc := formatValue(where)
	if assertion.Count != nil && len(docs) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d documents in %s where %s", *assertion.Count, assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d documents", len(docs)),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}
	if len(docs) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("document in %s where %s", assertion.Table, whereDesc),
			Actual:   "document not found",
		}
	}
	for _, doc := range docs {
		if !valuesMatch(expect, doc) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s where %s to have %s", assertion.Table, whereDesc, formatValue(expect)),
				Actual:   formatValue(doc),
			}
		}
	}
	return nil
}

// documentFields decodes a document with its _id and _creationTime.
func documentFields(d store.Document) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(d.Body, &fields); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", d.Table, d.ID, err)
	}
	fields["_id"] = d.ID
	fields["_creationTime"] = float64(d.CreationTime)
	return fields, nil
}

// valuesMatch compares an expected value from YAML with an actual value
// decoded from JSON. Objects match as subsets, arrays element-wise with
// equal length. A nil expectation matches an absent or null field.
func valuesMatch(expected, actual any) bool {
	switch e := expected.(type) {
	case nil:
		return actual == nil
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			if !valuesMatch(ev, a[k]) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range e {
			if !valuesMatch(e[i], a[i]) {
				return false
			}
		}
		return true
	case int:
		return numberEqual(float64(e), actual)
	case int64:
		return numberEqual(float64(e), actual)
	case float64:
		return numberEqual(e, actual)
	default:
		return reflect.DeepEqual(expected, actual)
	}
}

func numberEqual(expected float64, actual any) bool {
	a, ok := actual.(float64)
	return ok && a == expected
}

// formatValue renders a value deterministically for error messages.
func formatValue(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
	if len(m) == 0 {
		return "(all)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(m[k])))
	}
	return strings.Join(parts, ", ")
}

package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/chat"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
	"github.com/roach88/livechat/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fake clock and sequential ids.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.FakeClock
	callers map[string]engine.Caller
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh database in a temporary directory
// with the default chat policy. Execution flow:
// 1. Sign in the scenario's users
// 2. Execute flow steps with expect validation
// 3. Evaluate assertions
//
// The returned error reports infrastructure failures; scenario failures
// are reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, chat.DefaultPolicy())
}

// RunContext is Run with an explicit context and chat policy.
func RunContext(ctx context.Context, scenario *Scenario, policy chat.Policy) (*Result, error) {
	dir, err := os.MkdirTemp("", "livechat-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewFakeClock()
	st, err := store.Open(filepath.Join(dir, "harness.db"), chat.Schema(),
		store.WithNow(clock.Now),
		store.WithIDGenerator(testutil.NewSequenceGenerator("doc")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	eng, err := engine.New(st,
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("obs")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := chat.Register(eng, policy); err != nil {
		return nil, fmt.Errorf("failed to register chat: %w", err)
	}

	h := &Harness{
		store:   st,
		engine:  eng,
		clock:   clock,
		callers: make(map[string]engine.Caller),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	result := NewResult()
	if err := h.executeUsers(ctx, scenario.Users, result); err != nil {
		return nil, fmt.Errorf("failed to sign in users: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeUsers signs in each user through users:store. Setup steps are
// assumed to succeed.
func (h *Harness) executeUsers(ctx context.Context, users []UserStep, result *Result) error {
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = u.As
		}
		ident := &engine.Identity{
			TokenIdentifier: "harness|" + u.As,
			Name:            name,
			Email:           u.Email,
		}
		caller, err := chat.ResolveCaller(ctx, h.engine, ident)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.As, err)
		}
		h.callers[u.As] = caller
		result.Vars[u.As] = caller.UserID

		raw, _ := json.Marshal(caller.UserID)
		result.record(TraceEvent{
			Kind:   KindMutation,
			Op:     "users:store",
			As:     u.As,
			Status: StatusOK,
			Result: raw,
		})
		h.logger.Info("user signed in", "as", u.As, "user_id", caller.UserID)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
// Expectation mismatches are recorded on result; only unresolvable
// variables abort the run.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		if step.Advance != "" {
			d, _ := time.ParseDuration(step.Advance)
			h.clock.Advance(d)
			result.record(TraceEvent{Kind: KindAdvance, Op: step.Advance})
			continue
		}

		args, err := substitute(step.Args, result.Vars)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		rawArgs, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("flow step %d: failed to encode args: %w", i, err)
		}

		caller := h.callers[step.As] // zero Caller when As is empty

		kind, name := KindMutation, step.Mutation
		var out json.RawMessage
		if step.Query != "" {
			kind, name = KindQuery, step.Query
			out, err = h.engine.Query(ctx, caller, name, rawArgs)
		} else {
			out, err = h.engine.Mutate(ctx, caller, name, rawArgs)
		}

		ev := TraceEvent{Kind: kind, Op: name, As: step.As, Status: StatusOK, Result: out}
		if err != nil {
			ev.Status = string(apperr.CodeOf(err))
			ev.Error = apperr.Public(err)
			ev.Result = nil
		}
		result.record(ev)

		h.logger.Info("flow step completed",
			"step", i,
			"kind", kind,
			"op", name,
			"as", step.As,
			"status", ev.Status,
		)

		if step.Save != "" && err == nil {
			var saved any
			if jerr := json.Unmarshal(out, &saved); jerr != nil {
				return fmt.Errorf("flow step %d: failed to decode result: %w", i, jerr)
			}
			result.Vars[step.Save] = saved
		}

		for _, msg := range h.checkExpect(i, step, ev, result.Vars) {
			result.AddError(msg)
		}
	}
	return nil
}

// checkExpect compares a step's outcome with its expect clause.
func (h *Harness) checkExpect(index int, step FlowStep, ev TraceEvent, vars map[string]any) []string {
	want := StatusOK
	if step.Expect != nil && step.Expect.Status != "" {
		want = step.Expect.Status
	}
	prefix := fmt.Sprintf("flow[%d] %s", index, ev.Op)
	if ev.Status != want {
		detail := ""
		if ev.Error != "" {
			detail = ": " + ev.Error
		}
		return []string{fmt.Sprintf("%s: expected status %s, got %s%s", prefix, want, ev.Status, detail)}
	}
	if step.Expect == nil || ev.Status != StatusOK {
		return nil
	}

	var actual any
	if err := json.Unmarshal(ev.Result, &actual); err != nil {
		return []string{fmt.Sprintf("%s: undecodable result: %v", prefix, err)}
	}

	var errs []string
	if step.Expect.Length != nil {
		arr, ok := actual.([]any)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("%s: expected an array result, got %s", prefix, ev.Result))
		case len(arr) != *step.Expect.Length:
			errs = append(errs, fmt.Sprintf("%s: expected %d results, got %d", prefix, *step.Expect.Length, len(arr)))
		}
	}
	if step.Expect.Result != nil {
		expected, err := substitute(step.Expect.Result, vars)
		if err != nil {
			return append(errs, fmt.Sprintf("%s: %v", prefix, err))
		}
		if !valuesMatch(expected, actual) {
			errs = append(errs, fmt.Sprintf("%s: result %s does not match expected %v", prefix, ev.Result, formatValue(expected)))
		}
	}
	return errs
}

// substitute replaces "$name" strings with variable values, recursively.
// "$$" escapes a literal dollar sign.
func substitute(v any, vars map[string]any) (any, error) {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "$$") {
			return x[1:], nil
		}
		if !strings.HasPrefix(x, "$") {
			return x, nil
		}
		val, ok := vars[x[1:]]
		if !ok {
			return nil, fmt.Errorf("undefined variable %s", x)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			s, err := substitute(elem, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			s, err := substitute(elem, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	default:
		return v, nil
	}
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/canon"
	"github.com/roach88/livechat/internal/observability/metrics"
	"github.com/roach88/livechat/internal/store"
)

// DefaultWorkers is the default number of reconcile workers.
const DefaultWorkers = 4

// initTimeout bounds the first evaluation of a subscription. It runs
// detached from the subscribing request because concurrent subscribers
// to the same key wait on it too.
const initTimeout = 30 * time.Second

// Engine executes named operations and keeps subscriptions current.
//
// Thread-safety model:
//   - Register*: before Run only
//   - Mutate, Query, Subscribe, Unsubscribe, CloseConnection: any goroutine
//   - Run: exactly one goroutine
type Engine struct {
	store     *store.Store
	queries   map[string]QueryDef
	mutations map[string]MutationDef

	registry *registry
	queue    *invalidationQueue
	history  *history
	polls    *pollCache

	ids         IDGenerator
	workers     int
	historySize int
	quota       observerQuota
	now         func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of reconcile workers (default 4).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithIDGenerator overrides observer id generation (default UUIDv7).
func WithIDGenerator(gen IDGenerator) Option {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithHistorySize sets how many recent commits are kept for the
// missed-commit check.
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		e.historySize = n
	}
}

// WithMaxObservers caps the observers one connection may hold (default
// 256). Zero disables the limit.
func WithMaxObservers(n int) Option {
	return func(e *Engine) {
		e.quota = observerQuota{limit: n}
	}
}

// WithNow overrides the wall clock used for poll cache expiry.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine over s. Commits made before New are never
// reported to subscriptions, so New must run before serving traffic.
func New(s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:       s,
		queries:     make(map[string]QueryDef),
		mutations:   make(map[string]MutationDef),
		registry:    newRegistry(),
		queue:       newInvalidationQueue(),
		ids:         UUIDv7Generator{},
		workers:     DefaultWorkers,
		historySize: DefaultHistorySize,
		quota:       observerQuota{limit: DefaultMaxObservers},
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	head, err := s.Head(context.Background())
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e.history = newHistory(e.historySize, head)
	e.polls = newPollCache(e.now)
	return e, nil
}

// RegisterQuery adds a named query.
func (e *Engine) RegisterQuery(def QueryDef) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("register query: name and handler are required")
	}
	if _, dup := e.queries[def.Name]; dup {
		return fmt.Errorf("register query: duplicate name %q", def.Name)
	}
	e.queries[def.Name] = def
	return nil
}

// RegisterMutation adds a named mutation.
func (e *Engine) RegisterMutation(def MutationDef) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("register mutation: name and handler are required")
	}
	if _, dup := e.mutations[def.Name]; dup {
		return fmt.Errorf("register mutation: duplicate name %q", def.Name)
	}
	e.mutations[def.Name] = def
	return nil
}

// Queries returns registered query names in sorted order.
func (e *Engine) Queries() []string {
	return sortedNames(e.queries)
}

// Mutations returns registered mutation names in sorted order.
func (e *Engine) Mutations() []string {
	return sortedNames(e.mutations)
}

// Store returns the underlying document store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Mutate runs a mutation in one write transaction and returns its encoded
// result. It returns once the transaction has committed; subscribers are
// re-evaluated asynchronously.
func (e *Engine) Mutate(ctx context.Context, caller Caller, name string, args json.RawMessage) (json.RawMessage, error) {
	def, ok := e.mutations[name]
	if !ok {
		return nil, observe("mutation", name, apperr.Newf(apperr.CodeNotFound, "unknown mutation %q", name))
	}

	var result any
	commit, err := e.store.Update(ctx, name, func(tx *store.Tx) error {
		var err error
		result, err = def.Handler(ctx, tx, caller, args)
		return err
	})
	if err != nil {
		return nil, observe("mutation", name, err)
	}

	if commit.Seq > 0 {
		metrics.CommitsTotal.WithLabelValues(name).Inc()
		e.notify(commit)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, observe("mutation", name, fmt.Errorf("encode %s result: %w", name, err))
	}
	return encoded, observe("mutation", name, nil)
}

// notify publishes a commit to the dispatcher. The commit is added to the
// history before the registry is consulted, so a subscription registered
// concurrently either sees it in the history or is found here.
func (e *Engine) notify(commit store.Commit) {
	e.history.add(commit)
	keys := e.registry.affected(commit.Touched)
	for _, key := range keys {
		e.queue.Enqueue(key)
	}
	if len(keys) > 0 {
		metrics.InvalidationsTotal.WithLabelValues("commit").Add(float64(len(keys)))
	}
	slog.Debug("commit dispatched",
		"seq", commit.Seq,
		"mutation", commit.Name,
		"invalidated", len(keys))
}

// Query evaluates a query once. Poll queries are served from a cache that
// lives for the query's Poll interval.
func (e *Engine) Query(ctx context.Context, caller Caller, name string, args json.RawMessage) (json.RawMessage, error) {
	def, ok := e.queries[name]
	if !ok {
		return nil, observe("query", name, apperr.Newf(apperr.CodeNotFound, "unknown query %q", name))
	}

	var key string
	if def.Poll > 0 {
		var err error
		key, err = canon.SubscriptionKey(name, caller.UserID, args)
		if err != nil {
			return nil, observe("query", name, apperr.Wrap(apperr.CodeInvalidArgument, "invalid arguments", err))
		}
		if cached, ok := e.polls.get(key); ok {
			return cached, observe("query", name, nil)
		}
	}

	result, _, err := e.evaluate(ctx, def, caller, args)
	if err != nil {
		return nil, observe("query", name, err)
	}
	if def.Poll > 0 {
		e.polls.put(key, result, def.Poll)
	}
	return result, observe("query", name, nil)
}

// evaluate runs a query handler in a read transaction.
func (e *Engine) evaluate(ctx context.Context, def QueryDef, caller Caller, args json.RawMessage) (json.RawMessage, store.ReadInfo, error) {
	var result any
	info, err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		result, err = def.Handler(ctx, tx, caller, args)
		return err
	})
	if err != nil {
		return nil, info, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, info, fmt.Errorf("encode %s result: %w", def.Name, err)
	}
	return encoded, info, nil
}

// Subscribe evaluates a query and keeps it live for conn. The initial
// result is returned; later results are delivered through conn.Push with
// the returned observer id.
func (e *Engine) Subscribe(ctx context.Context, conn Conn, caller Caller, name string, args json.RawMessage) (Subscribed, error) {
	def, ok := e.queries[name]
	if !ok {
		return Subscribed{}, observe("subscribe", name, apperr.Newf(apperr.CodeNotFound, "unknown query %q", name))
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	key, err := canon.SubscriptionKey(name, caller.UserID, args)
	if err != nil {
		return Subscribed{}, observe("subscribe", name, apperr.Wrap(apperr.CodeInvalidArgument, "invalid arguments", err))
	}

	if err := e.quota.check(conn.ID(), e.registry.observers(conn.ID())); err != nil {
		return Subscribed{}, observe("subscribe", name, apperr.Wrap(apperr.CodeResourceExhausted, "too many subscriptions on this connection", err))
	}

	observerID := e.ids.Generate()
	sub, created := e.registry.attach(key, def, caller, args, conn, observerID)
	if created {
		e.initialize(ctx, sub)
	}

	select {
	case <-sub.ready:
	case <-ctx.Done():
		e.registry.detach(conn.ID(), observerID)
		return Subscribed{}, ctx.Err()
	}
	if sub.initErr != nil {
		return Subscribed{}, observe("subscribe", name, sub.initErr)
	}

	out, ok := sub.activate(observerID)
	if !ok {
		return Subscribed{}, observe("subscribe", name, apperr.New(apperr.CodeConflict, "subscription closed during setup"))
	}
	slog.Debug("subscribed",
		"query", name,
		"conn", conn.ID(),
		"observer", observerID,
		"snapshot", out.Snapshot)
	return out, observe("subscribe", name, nil)
}

// initialize runs the first evaluation of a new subscription.
func (e *Engine) initialize(ctx context.Context, sub *subscription) {
	defer close(sub.ready)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
	defer cancel()
	result, info, err := e.evaluate(ctx, sub.def, sub.caller, sub.args)
	if err != nil {
		sub.initErr = err
		e.registry.remove(sub)
		return
	}
	hash, err := resultHash(result, nil)
	if err != nil {
		sub.initErr = err
		e.registry.remove(sub)
		return
	}

	sub.mu.Lock()
	sub.apply(info.Snapshot, result, nil, hash)
	sub.mu.Unlock()

	e.registry.setDeps(sub, info.Reads)
	if !sub.isPoll() && e.history.touchedSince(info.Snapshot, info.Reads) {
		e.queue.Enqueue(sub.key)
		metrics.InvalidationsTotal.WithLabelValues("missed_commit").Inc()
	}
}

// Unsubscribe detaches one observer. Returns false if it was unknown.
func (e *Engine) Unsubscribe(connID, observerID string) bool {
	return e.registry.detach(connID, observerID)
}

// CloseConnection detaches every observer of a connection. Evaluations
// already running for its subscriptions finish and are discarded.
func (e *Engine) CloseConnection(connID string) {
	n := e.registry.detachConn(connID)
	if n > 0 {
		slog.Debug("connection closed", "conn", connID, "observers", n)
	}
}

// Subscriptions returns the number of live shared subscriptions.
func (e *Engine) Subscriptions() int {
	return e.registry.len()
}

// Run starts the reconcile workers and poll tickers. Blocks until ctx is
// cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "workers", e.workers, "queries", len(e.queries), "mutations", len(e.mutations))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}
	for _, def := range e.queries {
		if def.Poll <= 0 {
			continue
		}
		wg.Add(1)
		go func(def QueryDef) {
			defer wg.Done()
			e.poll(ctx, def)
		}(def)
	}

	select {
	case <-ctx.Done():
		slog.Info("engine stopping: context cancelled")
	case <-e.stop:
		slog.Info("engine stopping: stopped")
	}
	e.queue.Close()
	cancel()
	wg.Wait()
	return nil
}

// Stop shuts the engine down. Run returns once workers have exited.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func sortedNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// observe counts an operation outcome and returns err unchanged.
func observe(kind, name string, err error) error {
	code := "OK"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	metrics.OperationsTotal.WithLabelValues(kind, name, code).Inc()
	return err
}

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/observability/metrics"
)

// work drains the invalidation queue until ctx is cancelled or the queue
// is closed.
func (e *Engine) work(ctx context.Context) {
	for {
		if key, ok := e.queue.TryDequeue(); ok {
			e.reconcile(ctx, key)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case _, open := <-e.queue.Wait():
			if !open {
				return
			}
		}
	}
}

// reconcile re-evaluates one subscription. If another worker is already
// evaluating it, the subscription is marked dirty and that worker runs it
// again when done.
func (e *Engine) reconcile(ctx context.Context, key string) {
	sub, ok := e.registry.get(key)
	if !ok {
		return
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	if sub.running {
		sub.dirty = true
		sub.mu.Unlock()
		return
	}
	sub.running = true
	sub.mu.Unlock()

	for {
		again := e.reconcileOnce(ctx, sub)

		sub.mu.Lock()
		if sub.closed || (!sub.dirty && !again) || ctx.Err() != nil {
			sub.running = false
			sub.dirty = false
			sub.mu.Unlock()
			return
		}
		sub.dirty = false
		sub.mu.Unlock()
	}
}

// reconcileOnce evaluates sub, replaces its dependency set and pushes a
// changed result. Returns true if a commit newer than the evaluation may
// have been missed.
func (e *Engine) reconcileOnce(ctx context.Context, sub *subscription) bool {
	result, info, err := e.evaluate(ctx, sub.def, sub.caller, sub.args)

	// Domain errors are results too: a member removed from a conversation
	// should see the Forbidden, not the last good result.
	var errResult *apperr.Error
	if err != nil {
		appErr, ok := apperr.As(err)
		if !ok {
			metrics.ReconcilesTotal.WithLabelValues(sub.def.Name, "error").Inc()
			slog.Warn("reconcile failed",
				"query", sub.def.Name,
				"key", sub.key,
				"error", err)
			return false
		}
		result, errResult = nil, appErr
	}

	hash, err := resultHash(result, errResult)
	if err != nil {
		metrics.ReconcilesTotal.WithLabelValues(sub.def.Name, "error").Inc()
		slog.Warn("reconcile failed", "query", sub.def.Name, "key", sub.key, "error", err)
		return false
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return false
	}
	pushes := sub.apply(info.Snapshot, result, errResult, hash)
	sub.mu.Unlock()

	e.registry.setDeps(sub, depsOrEmpty(info.Reads))

	outcome := "unchanged"
	if len(pushes) > 0 {
		outcome = "pushed"
	}
	metrics.ReconcilesTotal.WithLabelValues(sub.def.Name, outcome).Inc()
	slog.Debug("reconciled",
		"query", sub.def.Name,
		"snapshot", info.Snapshot,
		"deps", len(info.Reads),
		"pushes", len(pushes))

	for _, p := range pushes {
		e.push(p)
	}

	if !sub.isPoll() && e.history.touchedSince(info.Snapshot, depsOrEmpty(info.Reads)) {
		metrics.InvalidationsTotal.WithLabelValues("missed_commit").Inc()
		return true
	}
	return false
}

// push delivers one update. Failures are counted and logged; the next
// invalidation or a reconnect heals the observer.
func (e *Engine) push(p pendingPush) {
	if err := p.conn.Push(p.update); err != nil {
		metrics.PushesTotal.WithLabelValues("failed").Inc()
		slog.Warn("push failed",
			"conn", p.conn.ID(),
			"observer", p.update.ObserverID,
			"query", p.update.Query,
			"error", err)
		return
	}
	metrics.PushesTotal.WithLabelValues("ok").Inc()
}

// poll re-evaluates every live subscription to a time-dependent query on
// each tick.
func (e *Engine) poll(ctx context.Context, def QueryDef) {
	ticker := time.NewTicker(def.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keys := e.registry.pollKeys(def.Name)
			for _, key := range keys {
				e.queue.Enqueue(key)
			}
			if len(keys) > 0 {
				metrics.InvalidationsTotal.WithLabelValues("poll").Add(float64(len(keys)))
			}
			e.polls.sweep()
		}
	}
}

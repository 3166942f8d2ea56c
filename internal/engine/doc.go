// Package engine runs named queries and mutations against the document
// store and keeps live queries current.
//
// ARCHITECTURE:
//
// Mutations run inside store.Update. The commit they produce carries the
// set of ranges it touched. After the writer's transaction commits, the
// engine records the commit in a short history ring and enqueues every
// subscription whose dependency set intersects the touched set. The writer
// does not wait for any re-evaluation.
//
// Queries run inside store.View against a WAL snapshot. The ranges they read
// form their dependency set. A subscription is a query kept live for one or
// more observers (connection + observer id); identical subscriptions (same
// name, caller and canonical args) share one evaluation.
//
// Subscription lifecycle:
//
//	Registered -> Invalidated -> Reconciling -> Registered
//	                                         -> Closed (last observer left)
//
// CRITICAL PATTERNS:
//
// Single reconciler: at most one evaluation runs per subscription.
// Invalidations that arrive during a run mark it dirty and it runs again,
// so results reach observers in snapshot order.
//
// Missed commits: a commit can land between a query's snapshot and the
// moment its dependency set is registered. After every registration the
// history ring is checked for such commits and the subscription re-runs if
// one overlaps.
//
// Time-based queries: queries declared with a Poll interval depend on the
// wall clock, not only on data. They are refreshed on a ticker instead of
// by range, and fetch-once calls are served from a TTL cache.
//
// Lock order: registry.mu before subscription.mu.
package engine

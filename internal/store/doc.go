// Package store provides the SQLite-backed document store and index layer.
//
// The store keeps typed collections ("tables") of JSON documents. Every
// document carries system fields:
//   - _id: generated identifier (UUIDv7 in production)
//   - _creationTime: unix milliseconds, monotonic across the store
//   - _seq: version, the logical sequence number of the last write
//
// Secondary indexes are declared per table in a Schema and maintained inside
// the same SQLite transaction as the document row, so a committed write is
// never visible without its index entries.
//
// # Critical Patterns
//
// Single writer: all write transactions are serialized through one
// connection guarded by a mutex. Commit order is therefore a total order and
// the commit log (commits table) records it.
//
// Logical time: ordering uses seq (logical clock), never wall-clock time.
// Per-transaction timestamps are allocated monotonically so that a record
// created after another never has a smaller _creationTime.
//
// Dependency tracking: every read through a Tx records the Range it
// observed; every write records the Ranges it touched. The engine intersects
// the two to decide which live queries must re-run.
//
// Deterministic results: index lookups and scans are ordered by
// created_seq ASC, id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: concurrent snapshot reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store

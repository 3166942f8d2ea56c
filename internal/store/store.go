package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added doc_id index on unique_entries
const currentSchemaVersion = 1

// DefaultReaders is the default size of the read connection pool.
const DefaultReaders = 4

// Store provides durable storage for documents, indexes and the commit log.
//
// Writes go through a single connection serialized by writeMu. Reads use a
// separate query-only pool so snapshot queries never wait on the writer.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	schema *Schema

	writeMu   sync.Mutex
	clock     *Clock
	lastStamp int64 // guarded by writeMu

	now     func() time.Time
	ids     IDGenerator
	readers int
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the wall clock used for transaction timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides document ID generation (default UUIDv7).
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// WithReaders sets the read pool size.
func WithReaders(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.readers = n
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The path must name a file: the writer and the reader pool are separate
// connections to the same database, which an in-memory database cannot share.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, schema *Schema, opts ...Option) (*Store, error) {
	if schema == nil {
		return nil, fmt.Errorf("open store: schema is required")
	}

	s := &Store{
		schema:  schema,
		now:     time.Now,
		ids:     UUIDv7Generator{},
		readers: DefaultReaders,
	}
	for _, opt := range opts {
		opt(s)
	}

	writer, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	if err := applyPragmas(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_query_only=true")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	reader.SetMaxOpenConns(s.readers)
	reader.SetMaxIdleConns(s.readers)

	s.writer = writer
	s.reader = reader

	if err := s.restoreClocks(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var firstErr error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			firstErr = err
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DB returns the writer connection for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.writer
}

// Schema returns the table definitions the store was opened with.
func (s *Store) Schema() *Schema {
	return s.schema
}

// Now returns the store's current wall-clock time.
func (s *Store) Now() time.Time {
	return s.now()
}

// restoreClocks resumes the logical clock and the timestamp allocator from
// the highest values already persisted, so a reopened store never reissues
// a sequence number or a smaller creation time.
func (s *Store) restoreClocks() error {
	var maxCommit, maxDoc, maxStamp int64
	err := s.writer.QueryRow(`SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(committed_at), 0) FROM commits`).
		Scan(&maxCommit, &maxStamp)
	if err != nil {
		return fmt.Errorf("restore clock: %w", err)
	}
	if err := s.writer.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM documents`).Scan(&maxDoc); err != nil {
		return fmt.Errorf("restore clock: %w", err)
	}
	s.clock = NewClockAt(max(maxCommit, maxDoc))
	s.lastStamp = maxStamp
	return nil
}

// nextStamp allocates a strictly increasing millisecond timestamp.
// Must be called with writeMu held.
func (s *Store) nextStamp(now time.Time) int64 {
	stamp := now.UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

// applyPragmas sets required SQLite configuration on the writer.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the doc_id index on unique_entries for databases created
// before deletes needed it.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_unique_entries_doc
		ON unique_entries(tbl, doc_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// Head returns the sequence number of the latest commit (0 if none).
func (s *Store) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := s.reader.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commits`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.writer.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

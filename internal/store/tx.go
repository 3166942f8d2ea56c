package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Tx is a transaction against the store. Read methods record the ranges
// they observe; write methods (Update only) record the ranges they touch.
//
// A Tx is bound to the goroutine running the Update or View callback and
// must not be retained after it returns.
type Tx struct {
	ctx      context.Context
	store    *Store
	sqlTx    *sql.Tx
	readOnly bool
	now      int64
	wall     int64

	reads   RangeSet
	touched RangeSet
	writes  int
}

// Page bounds a descending index read. Before is an exclusive created-seq
// cursor (0 means from the newest); Limit caps the number of documents.
type Page struct {
	Before int64
	Limit  int
}

func newTx(ctx context.Context, s *Store, sqlTx *sql.Tx, readOnly bool, now, wall int64) *Tx {
	return &Tx{
		ctx:      ctx,
		store:    s,
		sqlTx:    sqlTx,
		readOnly: readOnly,
		now:      now,
		wall:     wall,
		reads:    NewRangeSet(),
		touched:  NewRangeSet(),
	}
}

// Now returns the transaction's timestamp in unix milliseconds.
// Within Update it equals the _creationTime of every document inserted.
func (tx *Tx) Now() int64 {
	return tx.now
}

// Wall returns the wall-clock time the transaction started, in unix
// milliseconds. Unlike Now it is never pushed ahead by write bursts, so
// expiry fields compared against a later View must use Wall.
func (tx *Tx) Wall() int64 {
	return tx.wall
}

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Reads returns the ranges read so far.
func (tx *Tx) Reads() RangeSet {
	return tx.reads.Clone()
}

// Get fetches one document by id.
func (tx *Tx) Get(table, id string) (Document, bool, error) {
	if _, err := tx.store.schema.table(table); err != nil {
		return Document{}, false, fmt.Errorf("get: %w", err)
	}
	tx.reads.Add(DocRange(table, id))
	return tx.load(table, id)
}

// load reads a document without recording a dependency.
func (tx *Tx) load(table, id string) (Document, bool, error) {
	row := tx.sqlTx.QueryRowContext(tx.ctx, `
		SELECT tbl, id, seq, created_seq, creation_time, body
		FROM documents
		WHERE tbl = ? AND id = ?
	`, table, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return doc, true, nil
}

// Lookup returns every document whose index entry equals key, in creation
// order. key holds one value per indexed field.
func (tx *Tx) Lookup(table, index string, key ...any) ([]Document, error) {
	k, err := tx.indexRead(table, index, key)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	rows, err := tx.sqlTx.QueryContext(tx.ctx, `
		SELECT d.tbl, d.id, d.seq, d.created_seq, d.creation_time, d.body
		FROM index_entries e
		JOIN documents d ON d.tbl = e.tbl AND d.id = e.doc_id
		WHERE e.tbl = ? AND e.idx = ? AND e.key = ?
		ORDER BY e.created_seq ASC, e.doc_id ASC
	`, table, index, k)
	if err != nil {
		return nil, fmt.Errorf("lookup %s.%s: %w", table, index, err)
	}
	return collectDocuments(rows)
}

// First returns the oldest document matching key, if any.
func (tx *Tx) First(table, index string, key ...any) (Document, bool, error) {
	k, err := tx.indexRead(table, index, key)
	if err != nil {
		return Document{}, false, fmt.Errorf("first: %w", err)
	}
	row := tx.sqlTx.QueryRowContext(tx.ctx, `
		SELECT d.tbl, d.id, d.seq, d.created_seq, d.creation_time, d.body
		FROM index_entries e
		JOIN documents d ON d.tbl = e.tbl AND d.id = e.doc_id
		WHERE e.tbl = ? AND e.idx = ? AND e.key = ?
		ORDER BY e.created_seq ASC, e.doc_id ASC
		LIMIT 1
	`, table, index, k)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("first %s.%s: %w", table, index, err)
	}
	return doc, true, nil
}

// LookupPage returns up to page.Limit documents matching key, newest
// first, created strictly before page.Before. more reports whether older
// documents remain.
func (tx *Tx) LookupPage(table, index string, key []any, page Page) (docs []Document, more bool, err error) {
	k, err := tx.indexRead(table, index, key)
	if err != nil {
		return nil, false, fmt.Errorf("lookup page: %w", err)
	}
	if page.Limit <= 0 {
		return nil, false, fmt.Errorf("lookup page: limit must be positive, got %d", page.Limit)
	}
	before := page.Before
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := tx.sqlTx.QueryContext(tx.ctx, `
		SELECT d.tbl, d.id, d.seq, d.created_seq, d.creation_time, d.body
		FROM index_entries e
		JOIN documents d ON d.tbl = e.tbl AND d.id = e.doc_id
		WHERE e.tbl = ? AND e.idx = ? AND e.key = ? AND e.created_seq < ?
		ORDER BY e.created_seq DESC, e.doc_id DESC
		LIMIT ?
	`, table, index, k, before, page.Limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("lookup page %s.%s: %w", table, index, err)
	}
	docs, err = collectDocuments(rows)
	if err != nil {
		return nil, false, err
	}
	if len(docs) > page.Limit {
		return docs[:page.Limit], true, nil
	}
	return docs, false, nil
}

// Scan returns every document of a table in creation order.
func (tx *Tx) Scan(table string) ([]Document, error) {
	if _, err := tx.store.schema.table(table); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	tx.reads.Add(TableRange(table))
	rows, err := tx.sqlTx.QueryContext(tx.ctx, `
		SELECT tbl, id, seq, created_seq, creation_time, body
		FROM documents
		WHERE tbl = ?
		ORDER BY created_seq ASC, id ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return collectDocuments(rows)
}

// indexRead validates an index read, records its range and returns the key.
func (tx *Tx) indexRead(table, index string, key []any) (string, error) {
	t, err := tx.store.schema.table(table)
	if err != nil {
		return "", err
	}
	idx, err := t.index(index)
	if err != nil {
		return "", err
	}
	if len(key) != len(idx.Fields) {
		return "", fmt.Errorf("index %s.%s takes %d key values, got %d", table, index, len(idx.Fields), len(key))
	}
	k, err := indexKey(key)
	if err != nil {
		return "", fmt.Errorf("index %s.%s: %w", table, index, err)
	}
	tx.reads.Add(Range{Table: table, Index: index, Key: k})
	return k, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var body string
	if err := row.Scan(&doc.Table, &doc.ID, &doc.Seq, &doc.CreatedSeq, &doc.CreationTime, &body); err != nil {
		return Document{}, err
	}
	doc.Body = []byte(body)
	return doc, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// parseRange is the inverse of Range.String. Table and index names never
// contain "/", so everything after the second separator is the key.
func parseRange(s string) (Range, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return Range{}, fmt.Errorf("malformed range %q", s)
	}
	return Range{Table: parts[0], Index: parts[1], Key: parts[2]}, nil
}

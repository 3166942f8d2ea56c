package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Commit describes a committed write transaction.
//
// Seq is greater than the seq of every document the transaction wrote, so
// a snapshot taken at or after Seq observes all of its writes. Seq is 0
// when the transaction wrote nothing (no commit row is appended).
type Commit struct {
	Seq         int64
	Name        string
	Touched     RangeSet
	Reads       RangeSet
	CommittedAt int64
}

// Update runs fn inside a serialized write transaction. All writes made by
// fn, together with the commit-log row, commit atomically. If fn returns
// an error the transaction is rolled back and the error returned as is.
func (s *Store) Update(ctx context.Context, name string, fn func(*Tx) error) (Commit, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return Commit{}, fmt.Errorf("begin %s: %w", name, err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

	wall := s.now()
	tx := newTx(ctx, s, sqlTx, false, s.nextStamp(wall), wall.UnixMilli())
	if err := fn(tx); err != nil {
		return Commit{}, err
	}

	commit := Commit{
		Name:        name,
		Touched:     tx.touched,
		Reads:       tx.reads,
		CommittedAt: tx.now,
	}
	if tx.writes == 0 {
		return commit, nil
	}

	touchedJSON, err := json.Marshal(tx.touched.Strings())
	if err != nil {
		return Commit{}, fmt.Errorf("commit %s: %w", name, err)
	}
	commit.Seq = s.clock.Next()
	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO commits (seq, name, touched, committed_at)
		VALUES (?, ?, ?, ?)
	`, commit.Seq, name, string(touchedJSON), commit.CommittedAt); err != nil {
		return Commit{}, fmt.Errorf("commit %s: %w", name, err)
	}
	if err := sqlTx.Commit(); err != nil {
		return Commit{}, fmt.Errorf("commit %s: %w", name, err)
	}

	slog.Debug("commit",
		"seq", commit.Seq,
		"name", name,
		"writes", tx.writes,
		"touched", len(commit.Touched))
	return commit, nil
}

// Insert stores a new document and returns its id. v is any value that
// encodes to a JSON object; keys starting with "_" are ignored.
func (tx *Tx) Insert(table string, v any) (string, error) {
	if tx.readOnly {
		return "", ErrReadOnly
	}
	t, err := tx.store.schema.table(table)
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	body, fields, err := encodeBody(v)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	entries, err := t.entries(fields)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	if err := tx.checkUnique(table, "", entries); err != nil {
		return "", err
	}

	id := tx.store.ids.Generate()
	seq := tx.store.clock.Next()
	if _, err := tx.sqlTx.ExecContext(tx.ctx, `
		INSERT INTO documents (tbl, id, seq, created_seq, creation_time, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`, table, id, seq, seq, tx.now, body); err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	if err := tx.writeEntries(table, id, seq, entries); err != nil {
		return "", err
	}

	tx.touch(table, id, entries)
	return id, nil
}

// Replace overwrites the body of an existing document. System fields and
// creation order are preserved.
func (tx *Tx) Replace(table, id string, v any) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	body, fields, err := encodeBody(v)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", table, id, err)
	}
	return tx.rewrite(table, id, body, fields)
}

// Patch merges fields into an existing document. A nil value removes the
// field.
func (tx *Tx) Patch(table, id string, fields map[string]any) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if _, err := tx.store.schema.table(table); err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	doc, ok, err := tx.load(table, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("patch %s/%s: %w", table, id, ErrNotFound)
	}
	merged, err := doc.Fields()
	if err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	body, newFields, err := encodeBody(merged)
	if err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}
	return tx.rewrite(table, id, body, newFields)
}

// Delete removes a document and its index entries.
func (tx *Tx) Delete(table, id string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	t, err := tx.store.schema.table(table)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	doc, ok, err := tx.load(table, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", table, id, ErrNotFound)
	}
	oldFields, err := doc.Fields()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	oldEntries, err := t.entries(oldFields)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}

	// index_entries and unique_entries cascade.
	if _, err := tx.sqlTx.ExecContext(tx.ctx, `DELETE FROM documents WHERE tbl = ? AND id = ?`, table, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	tx.touch(table, id, oldEntries)
	return nil
}

// rewrite replaces an existing document's body and index entries.
func (tx *Tx) rewrite(table, id, body string, fields map[string]any) error {
	t, err := tx.store.schema.table(table)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	doc, ok, err := tx.load(table, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("write %s/%s: %w", table, id, ErrNotFound)
	}
	oldFields, err := doc.Fields()
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", table, id, err)
	}
	oldEntries, err := t.entries(oldFields)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", table, id, err)
	}
	newEntries, err := t.entries(fields)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", table, id, err)
	}
	if err := tx.checkUnique(table, id, newEntries); err != nil {
		return err
	}

	seq := tx.store.clock.Next()
	if _, err := tx.sqlTx.ExecContext(tx.ctx, `
		UPDATE documents SET seq = ?, body = ? WHERE tbl = ? AND id = ?
	`, seq, body, table, id); err != nil {
		return fmt.Errorf("write %s/%s: %w", table, id, err)
	}
	for _, stmt := range []string{
		`DELETE FROM index_entries WHERE tbl = ? AND doc_id = ?`,
		`DELETE FROM unique_entries WHERE tbl = ? AND doc_id = ?`,
	} {
		if _, err := tx.sqlTx.ExecContext(tx.ctx, stmt, table, id); err != nil {
			return fmt.Errorf("write %s/%s: %w", table, id, err)
		}
	}
	if err := tx.writeEntries(table, id, doc.CreatedSeq, newEntries); err != nil {
		return err
	}

	tx.touch(table, id, append(oldEntries, newEntries...))
	return nil
}

// checkUnique fails if a unique entry is already held by a document other
// than self. It runs before any row is written so a violation leaves the
// transaction untouched.
func (tx *Tx) checkUnique(table, self string, entries []entry) error {
	for _, e := range entries {
		if !e.unique {
			continue
		}
		var holder string
		err := tx.sqlTx.QueryRowContext(tx.ctx, `
			SELECT doc_id FROM unique_entries WHERE tbl = ? AND idx = ? AND key = ?
		`, table, e.index, e.key).Scan(&holder)
		if errors.Is(err, sql.ErrNoRows) || holder == self {
			continue
		}
		if err != nil {
			return fmt.Errorf("check unique %s.%s: %w", table, e.index, err)
		}
		return &UniqueViolationError{Table: table, Index: e.index, Key: e.key, ExistingID: holder}
	}
	return nil
}

func (tx *Tx) writeEntries(table, id string, createdSeq int64, entries []entry) error {
	for _, e := range entries {
		if _, err := tx.sqlTx.ExecContext(tx.ctx, `
			INSERT INTO index_entries (tbl, idx, key, created_seq, doc_id)
			VALUES (?, ?, ?, ?, ?)
		`, table, e.index, e.key, createdSeq, id); err != nil {
			return fmt.Errorf("index %s.%s: %w", table, e.index, err)
		}
		if !e.unique {
			continue
		}
		if _, err := tx.sqlTx.ExecContext(tx.ctx, `
			INSERT INTO unique_entries (tbl, idx, key, doc_id)
			VALUES (?, ?, ?, ?)
		`, table, e.index, e.key, id); err != nil {
			return fmt.Errorf("unique index %s.%s: %w", table, e.index, err)
		}
	}
	return nil
}

// touch records the ranges a write to one document affects.
func (tx *Tx) touch(table, id string, entries []entry) {
	tx.writes++
	tx.touched.Add(DocRange(table, id))
	tx.touched.Add(TableRange(table))
	for _, e := range entries {
		tx.touched.Add(Range{Table: table, Index: e.index, Key: e.key})
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ReadInfo describes a completed read-only transaction.
//
// Snapshot is the seq of the latest commit visible to the reads; every
// commit with a higher seq happened after the snapshot was taken.
type ReadInfo struct {
	Snapshot int64
	Reads    RangeSet
}

// View runs fn against a consistent snapshot on the read pool. Writes
// inside fn fail with ErrReadOnly. If fn fails, the returned ReadInfo still
// describes what it read before failing.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) (ReadInfo, error) {
	sqlTx, err := s.reader.BeginTx(ctx, nil)
	if err != nil {
		return ReadInfo{}, fmt.Errorf("begin view: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // read-only

	// The first read fixes the WAL snapshot for the rest of the transaction.
	var snapshot int64
	if err := sqlTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commits`).Scan(&snapshot); err != nil {
		return ReadInfo{}, fmt.Errorf("view snapshot: %w", err)
	}

	now := s.now().UnixMilli()
	tx := newTx(ctx, s, sqlTx, true, now, now)
	err = fn(tx)
	return ReadInfo{Snapshot: snapshot, Reads: tx.reads}, err
}

// Commits returns up to limit commit-log entries with seq > after, in
// commit order. Reads and document bodies are not retained in the log.
func (s *Store) Commits(ctx context.Context, after int64, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT seq, name, touched, committed_at
		FROM commits
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []Commit{}
	for rows.Next() {
		var c Commit
		var touchedJSON string
		if err := rows.Scan(&c.Seq, &c.Name, &touchedJSON, &c.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		var touched []string
		if err := json.Unmarshal([]byte(touchedJSON), &touched); err != nil {
			return nil, fmt.Errorf("commit %d: touched: %w", c.Seq, err)
		}
		c.Touched = NewRangeSet()
		for _, t := range touched {
			r, err := parseRange(t)
			if err != nil {
				return nil, fmt.Errorf("commit %d: %w", c.Seq, err)
			}
			c.Touched.Add(r)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

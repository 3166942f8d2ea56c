package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_InsertAssignsSystemFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var id string
	commit, err := s.Update(ctx, "create", func(tx *Tx) error {
		var err error
		id, err = tx.Insert("notes", note{Author: "ann", Text: "hello"})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "id-001", id)
	assert.Equal(t, "create", commit.Name)
	assert.Equal(t, int64(1_000_000), commit.CommittedAt)
	assert.Positive(t, commit.Seq)

	var got note
	_, err = s.View(ctx, func(tx *Tx) error {
		doc, ok, err := tx.Get("notes", id)
		require.True(t, ok)
		require.NoError(t, err)
		assert.Less(t, doc.Seq, commit.Seq, "commit seq must follow every record it wrote")
		return doc.Decode(&got)
	})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, int64(1_000_000), got.CreationTime)
	assert.Equal(t, "hello", got.Text)
}

func TestUpdate_TouchedRanges(t *testing.T) {
	s := createTestStore(t)

	commit, err := s.Update(context.Background(), "create", func(tx *Tx) error {
		_, err := tx.Insert("notes", note{Author: "ann", Slug: "s1", Text: "x", Tags: []string{"go"}})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`notes/*/`,
		`notes/by_author/["ann"]`,
		`notes/by_author_slug/["ann","s1"]`,
		`notes/by_id/id-001`,
		`notes/by_slug/["s1"]`,
		`notes/by_tag/["go"]`,
	}, commit.Touched.Strings())
}

func TestUpdate_PatchTouchesOldAndNewKeys(t *testing.T) {
	s := createTestStore(t)
	id := insertNote(t, s, note{Author: "ann", Text: "x"})

	commit, err := s.Update(context.Background(), "reassign", func(tx *Tx) error {
		return tx.Patch("notes", id, map[string]any{"author": "bob"})
	})
	require.NoError(t, err)

	assert.True(t, commit.Touched.Has(IndexRange("notes", "by_author", "ann")))
	assert.True(t, commit.Touched.Has(IndexRange("notes", "by_author", "bob")))

	notes, _ := viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Lookup("notes", "by_author", "ann")
	})
	assert.Empty(t, notes)
	notes, _ = viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Lookup("notes", "by_author", "bob")
	})
	require.Len(t, notes, 1)
	assert.Equal(t, "x", notes[0].Text)
}

func TestUpdate_PatchNilRemovesField(t *testing.T) {
	s := createTestStore(t)
	id := insertNote(t, s, note{Author: "ann", Slug: "s1", Text: "x"})

	_, err := s.Update(context.Background(), "unslug", func(tx *Tx) error {
		return tx.Patch("notes", id, map[string]any{"slug": nil})
	})
	require.NoError(t, err)

	notes, _ := viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Lookup("notes", "by_slug", "s1")
	})
	assert.Empty(t, notes)

	// The slug is free again.
	insertNote(t, s, note{Author: "bob", Slug: "s1", Text: "y"})
}

func TestUpdate_ReplacePreservesCreationOrder(t *testing.T) {
	s := createTestStore(t)
	first := insertNote(t, s, note{Author: "ann", Text: "1"})
	insertNote(t, s, note{Author: "ann", Text: "2"})

	_, err := s.Update(context.Background(), "rewrite", func(tx *Tx) error {
		return tx.Replace("notes", first, note{Author: "ann", Text: "1b"})
	})
	require.NoError(t, err)

	notes, _ := viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Lookup("notes", "by_author", "ann")
	})
	require.Len(t, notes, 2)
	assert.Equal(t, "1b", notes[0].Text)
	assert.Equal(t, "2", notes[1].Text)
}

func TestUpdate_Delete(t *testing.T) {
	s := createTestStore(t)
	id := insertNote(t, s, note{Author: "ann", Slug: "s1", Text: "x"})

	commit, err := s.Update(context.Background(), "remove", func(tx *Tx) error {
		return tx.Delete("notes", id)
	})
	require.NoError(t, err)
	assert.True(t, commit.Touched.Has(IndexRange("notes", "by_slug", "s1")))

	_, err = s.View(context.Background(), func(tx *Tx) error {
		_, ok, err := tx.Get("notes", id)
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)

	// Unique entry is released with the document.
	insertNote(t, s, note{Author: "bob", Slug: "s1", Text: "y"})
}

func TestUpdate_MissingDocument(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Update(context.Background(), "patch", func(tx *Tx) error {
		return tx.Patch("notes", "nope", map[string]any{"text": "x"})
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update(context.Background(), "delete", func(tx *Tx) error {
		return tx.Delete("notes", "nope")
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_UniqueViolationReportsHolder(t *testing.T) {
	s := createTestStore(t)
	holder := insertNote(t, s, note{Author: "ann", Slug: "s1", Text: "x"})
	headBefore, err := s.Head(context.Background())
	require.NoError(t, err)

	_, err = s.Update(context.Background(), "dup", func(tx *Tx) error {
		_, err := tx.Insert("notes", note{Author: "bob", Slug: "s1", Text: "y"})
		return err
	})
	uv, ok := IsUniqueViolation(err)
	require.True(t, ok, "expected unique violation, got %v", err)
	assert.Equal(t, holder, uv.ExistingID)
	assert.Equal(t, "by_slug", uv.Index)

	headAfter, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter, "failed transaction must not append a commit")
}

func TestUpdate_ErrorRollsBack(t *testing.T) {
	s := createTestStore(t)
	boom := errors.New("boom")

	_, err := s.Update(context.Background(), "partial", func(tx *Tx) error {
		if _, err := tx.Insert("notes", note{Author: "ann", Text: "x"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	notes, _ := viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Scan("notes")
	})
	assert.Empty(t, notes)
}

func TestUpdate_ZeroWritesAppendsNoCommit(t *testing.T) {
	s := createTestStore(t)

	commit, err := s.Update(context.Background(), "noop", func(tx *Tx) error {
		_, err := tx.Scan("notes")
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, commit.Seq)
	assert.True(t, commit.Reads.Has(TableRange("notes")))

	commits, err := s.Commits(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestUpdate_MonotonicStampsWithFrozenClock(t *testing.T) {
	s := createTestStore(t)

	a := insertNote(t, s, note{Author: "ann", Text: "1"})
	b := insertNote(t, s, note{Author: "ann", Text: "2"})

	notes, _ := viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Lookup("notes", "by_author", "ann")
	})
	require.Len(t, notes, 2)
	assert.Equal(t, a, notes[0].ID)
	assert.Equal(t, b, notes[1].ID)
	assert.Equal(t, notes[0].CreationTime+1, notes[1].CreationTime)
}

func TestUpdate_WallStaysOnWallClock(t *testing.T) {
	s := createTestStore(t)

	for i := 0; i < 20; i++ {
		insertNote(t, s, note{Author: "ann", Text: fmt.Sprint(i)})
	}
	var now, wall int64
	_, err := s.Update(context.Background(), "stamp", func(tx *Tx) error {
		now, wall = tx.Now(), tx.Wall()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), wall)
	assert.Equal(t, int64(1_000_020), now, "creation stamps run ahead of a frozen clock")

	_, err = s.View(context.Background(), func(tx *Tx) error {
		assert.Equal(t, int64(1_000_000), tx.Wall())
		assert.Equal(t, tx.Wall(), tx.Now())
		return nil
	})
	require.NoError(t, err)
}

func TestUpdate_ConcurrentUniqueInsert(t *testing.T) {
	s := createTestStore(t)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(context.Background(), "claim", func(tx *Tx) error {
				id, err := tx.Insert("notes", note{Author: "ann", Slug: "only", Text: "x"})
				if uv, ok := IsUniqueViolation(err); ok {
					ids[i] = uv.ExistingID
					return nil
				}
				ids[i] = id
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	notes, _ := viewNotes(t, s, func(tx *Tx) ([]Document, error) {
		return tx.Lookup("notes", "by_slug", "only")
	})
	assert.Len(t, notes, 1)
}

func TestUpdate_RejectsFloats(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Update(context.Background(), "float", func(tx *Tx) error {
		_, err := tx.Insert("counters", map[string]any{"value": 1.5})
		return err
	})
	assert.Error(t, err)
}

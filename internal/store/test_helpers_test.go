package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type note struct {
	ID           string   `json:"_id,omitempty"`
	CreationTime int64    `json:"_creationTime,omitempty"`
	Author       string   `json:"author"`
	Slug         string   `json:"slug,omitempty"`
	Text         string   `json:"text"`
	Tags         []string `json:"tags,omitempty"`
}

var testSchema = MustSchema(
	Table{Name: "notes", Indexes: []Index{
		{Name: "by_author", Fields: []string{"author"}},
		{Name: "by_slug", Fields: []string{"slug"}, Unique: true},
		{Name: "by_tag", Fields: []string{"tags"}},
		{Name: "by_author_slug", Fields: []string{"author", "slug"}},
	}},
	Table{Name: "counters"},
)

// seqIDs yields id-001, id-002, ... so assertions can name documents.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

// createTestStore opens a store in a temp dir with deterministic ids and a
// frozen wall clock at 1_000_000 ms.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	base := []Option{
		WithIDGenerator(&seqIDs{}),
		WithNow(func() time.Time { return time.UnixMilli(1_000_000) }),
	}
	s, err := Open(path, testSchema, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertNote(t *testing.T, s *Store, n note) string {
	t.Helper()
	var id string
	_, err := s.Update(context.Background(), "insertNote", func(tx *Tx) error {
		var err error
		id, err = tx.Insert("notes", n)
		return err
	})
	require.NoError(t, err)
	return id
}

func viewNotes(t *testing.T, s *Store, fn func(tx *Tx) ([]Document, error)) ([]note, ReadInfo) {
	t.Helper()
	var docs []Document
	info, err := s.View(context.Background(), func(tx *Tx) error {
		var err error
		docs, err = fn(tx)
		return err
	})
	require.NoError(t, err)
	out := make([]note, len(docs))
	for i, d := range docs {
		require.NoError(t, d.Decode(&out[i]))
	}
	return out, info
}

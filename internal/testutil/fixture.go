package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// Fixture is an engine over a temporary store with deterministic time
// and ids.
type Fixture struct {
	Clock  *FakeClock
	Store  *store.Store
	Engine *engine.Engine
}

// NewFixture opens a store in t.TempDir and builds an engine on it.
// Register operations on f.Engine, then call f.Run if the test needs
// live subscriptions.
func NewFixture(t *testing.T, schema *store.Schema) *Fixture {
	t.Helper()
	clock := NewFakeClock()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), schema,
		store.WithNow(clock.Now),
		store.WithIDGenerator(NewSequenceGenerator("doc")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e, err := engine.New(s,
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(NewSequenceGenerator("obs")),
	)
	require.NoError(t, err)
	return &Fixture{Clock: clock, Store: s, Engine: e}
}

// Run starts the engine's workers until the test ends.
func (f *Fixture) Run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

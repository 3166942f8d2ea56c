package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// handle adapts a handler with decoded arguments to engine.Handler.
func handle[A any](fn func(context.Context, *store.Tx, engine.Caller, A) (any, error)) engine.Handler {
	return func(ctx context.Context, tx *store.Tx, caller engine.Caller, raw json.RawMessage) (any, error) {
		args, err := engine.Args[A](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, tx, caller, args)
	}
}

// noArgs is the argument type of operations that take none.
type noArgs struct{}

func get[T any](tx *store.Tx, table, id string) (T, bool, error) {
	var v T
	if id == "" {
		return v, false, nil
	}
	doc, ok, err := tx.Get(table, id)
	if err != nil || !ok {
		return v, false, err
	}
	if err := doc.Decode(&v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", table, err)
	}
	return v, true, nil
}

func first[T any](tx *store.Tx, table, index string, key ...any) (T, bool, error) {
	var v T
	doc, ok, err := tx.First(table, index, key...)
	if err != nil || !ok {
		return v, false, err
	}
	if err := doc.Decode(&v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", table, err)
	}
	return v, true, nil
}

func lookup[T any](tx *store.Tx, table, index string, key ...any) ([]T, error) {
	docs, err := tx.Lookup(table, index, key...)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](table, docs)
}

func decodeAll[T any](table string, docs []store.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// profiles resolves user ids to profiles, skipping ids with no user.
func profiles(tx *store.Tx, ids []string) ([]Profile, error) {
	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		u, ok, err := get[User](tx, tableUsers, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, u.Profile())
		}
	}
	return out, nil
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

const defaultUserName = "Anonymous"

// storeUser upserts the caller's user record from their identity and
// returns its id. Repeated calls with the same identity are idempotent.
func (m *Module) storeUser(_ context.Context, tx *store.Tx, caller engine.Caller, _ noArgs) (any, error) {
	ident := caller.Identity
	if ident == nil || ident.TokenIdentifier == "" {
		return nil, apperr.Unauthorized("called users:store without an identity")
	}
	name := strings.TrimSpace(ident.Name)
	if name == "" {
		name = defaultUserName
	}

	existing, ok, err := first[User](tx, tableUsers, "by_token", ident.TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if ok {
		patch := map[string]any{}
		if existing.Name != name {
			patch["name"] = name
		}
		if existing.ImageURL != ident.PictureURL {
			patch["imageUrl"] = nilIfEmpty(ident.PictureURL)
		}
		if existing.Email != ident.Email {
			patch["email"] = nilIfEmpty(ident.Email)
		}
		if len(patch) > 0 {
			if err := tx.Patch(tableUsers, existing.ID, patch); err != nil {
				return nil, err
			}
		}
		return existing.ID, nil
	}

	id, err := tx.Insert(tableUsers, User{
		Name:            name,
		TokenIdentifier: ident.TokenIdentifier,
		ImageURL:        ident.PictureURL,
		Email:           ident.Email,
	})
	if existingID, conflict := engine.IsConflict(err); conflict {
		return existingID, nil
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

// currentUser returns the caller's user record, or null.
func (m *Module) currentUser(_ context.Context, tx *store.Tx, caller engine.Caller, _ noArgs) (any, error) {
	if caller.UserID == "" {
		return nil, nil
	}
	u, ok, err := get[User](tx, tableUsers, caller.UserID)
	if err != nil || !ok {
		return nil, err
	}
	return u, nil
}

type searchUsersArgs struct {
	SearchTerm string `json:"searchTerm"`
}

// searchUsers matches names case-insensitively, excluding the caller.
// An empty term matches everyone.
func (m *Module) searchUsers(_ context.Context, tx *store.Tx, caller engine.Caller, args searchUsersArgs) (any, error) {
	out := []Profile{}
	if caller.UserID == "" {
		return out, nil
	}
	docs, err := tx.Scan(tableUsers)
	if err != nil {
		return nil, err
	}
	users, err := decodeAll[User](tableUsers, docs)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	term := fold.String(strings.TrimSpace(args.SearchTerm))
	for _, u := range users {
		if u.ID == caller.UserID {
			continue
		}
		if term != "" && !strings.Contains(fold.String(u.Name), term) {
			continue
		}
		out = append(out, u.Profile())
	}
	return out, nil
}

// ResolveCaller upserts the user for an authenticated identity and
// returns a caller carrying the user id. A nil identity yields
// engine.Anonymous.
func ResolveCaller(ctx context.Context, e *engine.Engine, ident *engine.Identity) (engine.Caller, error) {
	if ident == nil {
		return engine.Anonymous, nil
	}
	caller := engine.Caller{Identity: ident}
	raw, err := e.Mutate(ctx, caller, "users:store", nil)
	if err != nil {
		return engine.Anonymous, err
	}
	if err := json.Unmarshal(raw, &caller.UserID); err != nil {
		return engine.Anonymous, fmt.Errorf("resolve caller: %w", err)
	}
	return caller, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

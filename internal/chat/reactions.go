package chat

import (
	"context"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/store"
)

// Emojis is the fixed reaction set, in display order.
var Emojis = []string{
	"\U0001F44D",   // thumbs up
	"\u2764\ufe0f", // red heart
	"\U0001F602",   // tears of joy
	"\U0001F62E",   // open mouth
	"\U0001F622",   // crying
}

func allowedEmoji(e string) bool {
	for _, a := range Emojis {
		if a == e {
			return true
		}
	}
	return false
}

type toggleReactionArgs struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// toggleReaction adds the caller's reaction or removes it if present.
// It returns whether the reaction exists afterwards.
func (m *Module) toggleReaction(_ context.Context, tx *store.Tx, caller engine.Caller, args toggleReactionArgs) (any, error) {
	if !allowedEmoji(args.Emoji) {
		return nil, apperr.InvalidArg("unsupported emoji")
	}
	me, err := caller.RequireUser()
	if err != nil {
		return nil, err
	}
	if _, ok, err := get[Message](tx, tableMessages, args.MessageID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("message not found")
	}

	existing, ok, err := first[Reaction](tx, tableReactions, "by_message_user_emoji", args.MessageID, me, args.Emoji)
	if err != nil {
		return nil, err
	}
	if ok {
		return false, tx.Delete(tableReactions, existing.ID)
	}
	_, err = tx.Insert(tableReactions, Reaction{MessageID: args.MessageID, UserID: me, Emoji: args.Emoji})
	if _, conflict := engine.IsConflict(err); conflict {
		return true, nil
	}
	if err != nil {
		return nil, err
	}
	return true, nil
}

// ReactionGroup aggregates the reactions of one emoji on a message.
type ReactionGroup struct {
	Emoji           string `json:"emoji"`
	Count           int    `json:"count"`
	ReactedByViewer bool   `json:"reactedByViewer"`
}

// listReactions groups a message's reactions by emoji in display order,
// omitting emojis nobody used.
func (m *Module) listReactions(_ context.Context, tx *store.Tx, caller engine.Caller, args messageArgs) (any, error) {
	reactions, err := lookup[Reaction](tx, tableReactions, "by_message", args.MessageID)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	mine := map[string]bool{}
	for _, r := range reactions {
		counts[r.Emoji]++
		if caller.UserID != "" && r.UserID == caller.UserID {
			mine[r.Emoji] = true
		}
	}
	out := []ReactionGroup{}
	for _, e := range Emojis {
		if counts[e] == 0 {
			continue
		}
		out = append(out, ReactionGroup{Emoji: e, Count: counts[e], ReactedByViewer: mine[e]})
	}
	return out, nil
}

package chat

import (
	"context"
	"log/slog"
)

// Resolver deterministically maps an unordered user pair to its single
// conversation, creating the row and any missing participant entries on the
// way. Safe to call repeatedly and concurrently for the same pair.
type Resolver struct {
	log   *slog.Logger
	store Store
	users UserDirectory
}

// NewResolver constructs a Resolver.
func NewResolver(log *slog.Logger, store Store, users UserDirectory) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log, store: store, users: users}
}

// Resolve returns the conversation id for the pair {selfID, peerID}.
//
// Steps:
//  1. Both ids must be well-formed (ErrInvalidInput).
//  2. The peer must exist in the user directory (ErrNotFound).
//  3. The key is order-independent, so Resolve(a, b) == Resolve(b, a).
//  4. Find-or-create rides on the unique key constraint; a creation race
//     resolves to the winner's row.
//  5. Only participants missing from the junction are inserted.
func (r *Resolver) Resolve(ctx context.Context, selfID, peerID string) (string, error) {
	const op = "chat.Resolve"

	if !ValidID(selfID) || !ValidID(peerID) {
		return "", opErr(op, ErrInvalidInput, "malformed user id")
	}

	if _, err := r.users.Profile(ctx, peerID); err != nil {
		return "", err
	}

	key := ParticipantsKey(selfID, peerID)

	conv, created, err := r.store.FindOrCreateConversation(ctx, key)
	if err != nil {
		return "", err
	}
	if created {
		r.log.Info("chat.conversation.create", "conversation_id", conv.ID)
	}

	existing, err := r.store.Participants(ctx, conv.ID)
	if err != nil {
		return "", err
	}

	present := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}

	var missing []string
	for _, id := range []string{selfID, peerID} {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := r.store.AddParticipantsIfMissing(ctx, conv.ID, missing); err != nil {
			return "", err
		}
	}

	return conv.ID, nil
}

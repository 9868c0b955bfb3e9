package chat

import (
	"context"
)

// QueryService assembles conversation read views for clients. It never
// mutates; each method has one fixed query shape.
type QueryService struct {
	store Store
}

// NewQueryService constructs a QueryService.
func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// ConversationView is the detail read model handed to the HTTP layer:
// the conversation id, its messages oldest-first, and the peer's profile.
type ConversationView struct {
	ID       string
	Messages []DetailMessage
	Peer     Profile
}

// ConversationDetail loads a conversation for a requesting participant.
//
// Errors: ErrInvalidInput on a malformed id, ErrNotFound when the
// conversation is absent or no peer can be identified, ErrForbidden when the
// requester is not a participant.
func (q *QueryService) ConversationDetail(ctx context.Context, conversationID, requestingUserID string) (ConversationView, error) {
	const op = "chat.QueryDetail"

	if !ValidID(conversationID) {
		return ConversationView{}, opErr(op, ErrInvalidInput, "malformed conversation id")
	}

	d, err := q.store.ConversationDetail(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}

	var (
		isParticipant bool
		peer          Profile
		peerFound     bool
	)
	for _, p := range d.Participants {
		if p.ID == requestingUserID {
			isParticipant = true
		} else if !peerFound {
			peer = p
			peerFound = true
		}
	}
	if !isParticipant {
		return ConversationView{}, opErr(op, ErrForbidden, "not a participant")
	}
	if !peerFound {
		return ConversationView{}, opErr(op, ErrNotFound, "peer profile")
	}

	return ConversationView{
		ID:       d.Conversation.ID,
		Messages: d.Messages,
		Peer:     peer,
	}, nil
}

// ConversationSummaries returns one summary per conversation containing the
// requesting user that has at least one message. Ordering is stable per call;
// clients may re-sort by timestamp.
func (q *QueryService) ConversationSummaries(ctx context.Context, requestingUserID string) ([]Summary, error) {
	return q.store.ConversationSummaries(ctx, requestingUserID)
}

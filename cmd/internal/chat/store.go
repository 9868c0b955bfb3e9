package chat

import (
	"context"
)

// Store persists conversations, participants, and messages.
//
// Requirements:
//   - At most one conversation row per participants key (unique constraint is
//     the serialization point under concurrent first contact).
//   - AppendMessage runs in a single transaction and verifies the sender is a
//     participant before inserting; either the row is fully persisted with
//     viewed=false or nothing is.
//   - MarkMessagesSeen only flips viewed false -> true, never back.
type Store interface {
	// CreateConversation inserts a conversation row for the given key.
	// Returns ErrConflict if a row with that key already exists.
	CreateConversation(ctx context.Context, participantsKey string) (Conversation, error)

	// FindOrCreateConversation atomically resolves the key to its single
	// conversation row, creating it when absent. Concurrent callers for the
	// same key all resolve to the same row.
	FindOrCreateConversation(ctx context.Context, participantsKey string) (conv Conversation, created bool, err error)

	// Participants returns the current member user ids of a conversation.
	Participants(ctx context.Context, conversationID string) ([]string, error)

	// AddParticipantsIfMissing inserts only the junction rows not already
	// present. Idempotent; repeat calls with identical input are no-ops.
	AddParticipantsIfMissing(ctx context.Context, conversationID string, userIDs []string) error

	// AppendMessage persists one message transactionally.
	// ErrNotFound when the conversation is unknown, ErrForbidden when the
	// sender is not a participant, ErrInvalidInput on empty content.
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)

	// MarkMessagesSeen sets viewed=true on all currently-unviewed messages in
	// the conversation authored by peerSenderID and returns the count updated.
	// Zero matching rows is not an error.
	MarkMessagesSeen(ctx context.Context, conversationID, peerSenderID string) (int64, error)

	// ConversationDetail loads one conversation with its messages (sent-at
	// ascending, senders joined) and participant profiles. ErrNotFound when
	// the conversation is unknown.
	ConversationDetail(ctx context.Context, conversationID string) (Detail, error)

	// ConversationSummaries returns one Summary per conversation containing
	// userID that has at least one message.
	ConversationSummaries(ctx context.Context, userID string) ([]Summary, error)

	Close() error
}

// UserDirectory is the boundary to the external user profile store.
type UserDirectory interface {
	// Profile loads one user's profile projection. ErrNotFound when the user
	// does not exist.
	Profile(ctx context.Context, userID string) (Profile, error)
}

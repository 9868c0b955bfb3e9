package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParticipantsKeySeparator joins the sorted participant pair into the
// order-independent conversation key. Wire-stable: existing rows depend on it.
const ParticipantsKeySeparator = "_"

// Conversation is a two-party durable thread uniquely keyed by its sorted
// participant-id pair.
type Conversation struct {
	ID              string
	ParticipantsKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message is one chat entry. The original backend calls these rows "chats".
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	SentAt         time.Time
	Viewed         bool
	CreatedAt      time.Time
}

// Profile is the projection of a user this core reads: identity, display
// name, optional avatar URL. The full user entity is owned elsewhere.
type Profile struct {
	ID        string
	Name      string
	AvatarURL string
}

// DetailMessage is a message joined with its sender's profile for the
// conversation detail view.
type DetailMessage struct {
	Message
	Sender Profile
}

// Detail is the read model for one conversation: messages in sent-at
// ascending order plus both participant profiles.
type Detail struct {
	Conversation Conversation
	Messages     []DetailMessage
	Participants []Profile
}

// Summary is one row of a user's conversation list: the latest message and
// the count of peer-authored unviewed messages. Conversations without
// messages never produce a Summary.
type Summary struct {
	ConversationID string
	LastMessage    string
	Timestamp      time.Time
	UnreadCount    int64
	Peer           Profile
}

// AppendMessageInput describes a message append request.
// SentAt may be client-supplied; zero means "now". ID is always server-assigned.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	SentAt         time.Time
}

// ParticipantsKey derives the order-independent conversation key for an
// unordered user pair: ids sorted lexicographically, joined with "_".
func ParticipantsKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ParticipantsKeySeparator)
}

// ValidID reports whether s is a well-formed identity token (UUID).
func ValidID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// NewID returns a fresh entity id (UUIDv4, matching existing rows).
func NewID() string {
	return uuid.NewString()
}

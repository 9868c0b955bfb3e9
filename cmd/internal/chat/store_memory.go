package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev/test fallback used when no database is configured.
// It implements both Store and UserDirectory so a dev process is
// self-contained: seed users with AddUser, everything else behaves like the
// Postgres store (same error kinds, same invariants).
type InMemoryStore struct {
	mu sync.Mutex

	users   map[string]Profile
	byKey   map[string]*memConversation // participants_key -> conversation
	byID    map[string]*memConversation // conversation id  -> conversation
	counter uint64                      // insertion order tiebreaker for equal timestamps
}

type memConversation struct {
	conv    Conversation
	members map[string]struct{}
	msgs    []memMessage
}

type memMessage struct {
	Message
	order uint64
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]Profile),
		byKey: make(map[string]*memConversation),
		byID:  make(map[string]*memConversation),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AddUser seeds a user profile. Dev/test helper.
func (s *InMemoryStore) AddUser(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

// Profile implements UserDirectory.
func (s *InMemoryStore) Profile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if !ok {
		return Profile{}, opErr("chat.Profile", ErrNotFound, "user")
	}
	return p, nil
}

// CreateConversation inserts a conversation row for the given key.
func (s *InMemoryStore) CreateConversation(ctx context.Context, participantsKey string) (Conversation, error) {
	const op = "chat.CreateConversation"

	if participantsKey == "" {
		return Conversation{}, opErr(op, ErrInvalidInput, "empty participants key")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[participantsKey]; ok {
		return Conversation{}, opErr(op, ErrConflict, "participants_key")
	}
	return s.insertConversationLocked(participantsKey), nil
}

// FindOrCreateConversation resolves the key to its single conversation row.
func (s *InMemoryStore) FindOrCreateConversation(ctx context.Context, participantsKey string) (Conversation, bool, error) {
	if participantsKey == "" {
		return Conversation{}, false, opErr("chat.FindOrCreateConversation", ErrInvalidInput, "empty participants key")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.byKey[participantsKey]; ok {
		return c.conv, false, nil
	}
	return s.insertConversationLocked(participantsKey), true, nil
}

func (s *InMemoryStore) insertConversationLocked(participantsKey string) Conversation {
	now := time.Now().UTC()
	c := &memConversation{
		conv: Conversation{
			ID:              NewID(),
			ParticipantsKey: participantsKey,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		members: make(map[string]struct{}),
	}
	s.byKey[participantsKey] = c
	s.byID[c.conv.ID] = c
	return c.conv
}

// Participants returns the member user ids of a conversation.
func (s *InMemoryStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// AddParticipantsIfMissing inserts only junction entries not already present.
func (s *InMemoryStore) AddParticipantsIfMissing(ctx context.Context, conversationID string, userIDs []string) error {
	const op = "chat.AddParticipantsIfMissing"

	if len(userIDs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[conversationID]
	if !ok {
		return opErr(op, ErrNotFound, "conversation")
	}
	// All-or-nothing, same as the Postgres single-statement insert.
	for _, id := range userIDs {
		if _, ok := s.users[id]; !ok {
			return opErr(op, ErrNotFound, "user")
		}
	}
	for _, id := range userIDs {
		c.members[id] = struct{}{}
	}
	return nil
}

// AppendMessage persists one message, verifying membership first. All-or-nothing.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	if in.Content == "" {
		return Message{}, opErr(op, ErrInvalidInput, "empty content")
	}
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, opErr(op, ErrInvalidInput, "missing conversation or sender id")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	sentAt := in.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[in.ConversationID]
	if !ok {
		return Message{}, opErr(op, ErrNotFound, "conversation")
	}
	if _, ok := c.members[in.SenderID]; !ok {
		return Message{}, opErr(op, ErrForbidden, "sender is not a participant")
	}

	s.counter++
	msg := Message{
		ID:             NewID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		SentAt:         sentAt,
		Viewed:         false,
		CreatedAt:      time.Now().UTC(),
	}
	c.msgs = append(c.msgs, memMessage{Message: msg, order: s.counter})
	return msg, nil
}

// MarkMessagesSeen flips viewed=true on unviewed messages authored by peerSenderID.
func (s *InMemoryStore) MarkMessagesSeen(ctx context.Context, conversationID, peerSenderID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[conversationID]
	if !ok {
		return 0, nil
	}

	var n int64
	for i := range c.msgs {
		if c.msgs[i].SenderID == peerSenderID && !c.msgs[i].Viewed {
			c.msgs[i].Viewed = true
			n++
		}
	}
	return n, nil
}

// ConversationDetail loads the fixed detail shape.
func (s *InMemoryStore) ConversationDetail(ctx context.Context, conversationID string) (Detail, error) {
	const op = "chat.ConversationDetail"

	if err := ctx.Err(); err != nil {
		return Detail{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[conversationID]
	if !ok {
		return Detail{}, opErr(op, ErrNotFound, "conversation")
	}

	d := Detail{Conversation: c.conv}

	snap := append([]memMessage(nil), c.msgs...)
	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].SentAt.Equal(snap[j].SentAt) {
			return snap[i].SentAt.Before(snap[j].SentAt)
		}
		return snap[i].order < snap[j].order
	})
	for _, m := range snap {
		d.Messages = append(d.Messages, DetailMessage{
			Message: m.Message,
			Sender:  s.users[m.SenderID],
		})
	}

	memberIDs := make([]string, 0, len(c.members))
	for id := range c.members {
		memberIDs = append(memberIDs, id)
	}
	sort.Strings(memberIDs)
	for _, id := range memberIDs {
		d.Participants = append(d.Participants, s.users[id])
	}

	return d, nil
}

// ConversationSummaries computes the conversation list for a user.
// Conversations without messages are omitted.
func (s *InMemoryStore) ConversationSummaries(ctx context.Context, userID string) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Summary
	for _, c := range s.byID {
		if _, ok := c.members[userID]; !ok {
			continue
		}
		if len(c.msgs) == 0 {
			continue
		}

		last := c.msgs[0]
		var unread int64
		for _, m := range c.msgs {
			if m.SentAt.After(last.SentAt) || (m.SentAt.Equal(last.SentAt) && m.order > last.order) {
				last = m
			}
			if m.SenderID != userID && !m.Viewed {
				unread++
			}
		}

		var peer Profile
		for id := range c.members {
			if id != userID {
				peer = s.users[id]
				break
			}
		}

		out = append(out, Summary{
			ConversationID: c.conv.ID,
			LastMessage:    last.Content,
			Timestamp:      last.SentAt,
			UnreadCount:    unread,
			Peer:           peer,
		})
	}

	// Stable per call: newest conversation activity first, id as tiebreaker.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

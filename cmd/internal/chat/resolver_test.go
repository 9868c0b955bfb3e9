package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func newTestResolver(t *testing.T) (*Resolver, *InMemoryStore) {
	t.Helper()
	s := NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(log, s, s), s
}

func TestResolver_Resolve_CreatesOnFirstContact(t *testing.T) {
	t.Parallel()

	r, s := newTestResolver(t)
	ctx := context.Background()

	self := Profile{ID: NewID(), Name: "Self"}
	peer := Profile{ID: NewID(), Name: "Peer"}
	s.AddUser(self)
	s.AddUser(peer)

	convID, err := r.Resolve(ctx, self.ID, peer.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ValidID(convID) {
		t.Fatalf("expected a well-formed conversation id, got %q", convID)
	}

	members, err := s.Participants(ctx, convID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected both participants registered, got %v", members)
	}
}

func TestResolver_Resolve_Idempotent(t *testing.T) {
	t.Parallel()

	r, s := newTestResolver(t)
	ctx := context.Background()

	self := Profile{ID: NewID(), Name: "Self"}
	peer := Profile{ID: NewID(), Name: "Peer"}
	s.AddUser(self)
	s.AddUser(peer)

	first, err := r.Resolve(ctx, self.ID, peer.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Repeat calls and the reversed pair all land on the same row.
	second, err := r.Resolve(ctx, self.ID, peer.ID)
	if err != nil {
		t.Fatalf("Resolve repeat: %v", err)
	}
	reversed, err := r.Resolve(ctx, peer.ID, self.ID)
	if err != nil {
		t.Fatalf("Resolve reversed: %v", err)
	}
	if first != second || first != reversed {
		t.Fatalf("expected one conversation, got %q, %q, %q", first, second, reversed)
	}

	members, err := s.Participants(ctx, first)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("participants must not duplicate, got %v", members)
	}
}

func TestResolver_Resolve_ConcurrentSamePair(t *testing.T) {
	t.Parallel()

	r, s := newTestResolver(t)
	ctx := context.Background()

	self := Profile{ID: NewID(), Name: "Self"}
	peer := Profile{ID: NewID(), Name: "Peer"}
	s.AddUser(self)
	s.AddUser(peer)

	const n = 64
	ids := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			// Half the callers name the pair in reverse order.
			a, b := self.ID, peer.ID
			if i%2 == 1 {
				a, b = b, a
			}
			ids[i], errs[i] = r.Resolve(ctx, a, b)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent resolve %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolve %d: got %q, want %q", i, ids[i], ids[0])
		}
	}

	// Exactly one row, with exactly the two participants.
	conv, created, err := s.FindOrCreateConversation(ctx, ParticipantsKey(self.ID, peer.ID))
	if err != nil {
		t.Fatalf("FindOrCreateConversation: %v", err)
	}
	if created || conv.ID != ids[0] {
		t.Fatalf("expected the single existing row %q, got created=%v id=%q", ids[0], created, conv.ID)
	}
	members, err := s.Participants(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 participants, got %v", members)
	}
}

func TestResolver_Resolve_MalformedIDs(t *testing.T) {
	t.Parallel()

	r, s := newTestResolver(t)
	ctx := context.Background()

	peer := Profile{ID: NewID(), Name: "Peer"}
	s.AddUser(peer)

	tests := []struct {
		name   string
		selfID string
		peerID string
	}{
		{name: "empty self", selfID: "", peerID: peer.ID},
		{name: "empty peer", selfID: NewID(), peerID: ""},
		{name: "garbage peer", selfID: NewID(), peerID: "not-a-uuid"},
		{name: "injection attempt", selfID: NewID(), peerID: "1 OR 1=1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tc.selfID, tc.peerID)
			if !IsInvalidInput(err) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestResolver_Resolve_UnknownPeer(t *testing.T) {
	t.Parallel()

	r, s := newTestResolver(t)
	ctx := context.Background()

	self := Profile{ID: NewID(), Name: "Self"}
	s.AddUser(self)

	_, err := r.Resolve(ctx, self.ID, NewID())
	if !IsNotFound(err) {
		t.Fatalf("expected not found for unknown peer, got %v", err)
	}
}

func TestResolver_Resolve_RepairsMissingParticipant(t *testing.T) {
	t.Parallel()

	r, s := newTestResolver(t)
	ctx := context.Background()

	self := Profile{ID: NewID(), Name: "Self"}
	peer := Profile{ID: NewID(), Name: "Peer"}
	s.AddUser(self)
	s.AddUser(peer)

	// Conversation row exists but only one junction entry was written.
	conv, _, err := s.FindOrCreateConversation(ctx, ParticipantsKey(self.ID, peer.ID))
	if err != nil {
		t.Fatalf("FindOrCreateConversation: %v", err)
	}
	if err := s.AddParticipantsIfMissing(ctx, conv.ID, []string{self.ID}); err != nil {
		t.Fatalf("AddParticipantsIfMissing: %v", err)
	}

	got, err := r.Resolve(ctx, self.ID, peer.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != conv.ID {
		t.Fatalf("expected existing conversation %q, got %q", conv.ID, got)
	}

	members, err := s.Participants(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected repaired membership, got %v", members)
	}
}

package realtime

import (
	"io"
	"log/slog"
	"testing"
)

func newTestRegistry() *MemoryRegistry {
	return NewMemoryRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMemoryRegistry_MultiDevice(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	phone := NewClient("user-a", "sess-phone", 8)
	laptop := NewClient("user-a", "sess-laptop", 8)
	other := NewClient("user-b", "sess-other", 8)

	r.Register(phone)
	r.Register(laptop)
	r.Register(other)

	if got := r.Connections("user-a"); len(got) != 2 {
		t.Fatalf("expected 2 connections for user-a, got %d", len(got))
	}
	if !r.Reachable("user-a") || !r.Reachable("user-b") {
		t.Fatalf("expected both users reachable")
	}

	// Removing one device leaves the other intact.
	r.Unregister(phone)

	got := r.Connections("user-a")
	if len(got) != 1 || got[0] != laptop {
		t.Fatalf("expected only the laptop connection, got %v", got)
	}
	if !r.Reachable("user-a") {
		t.Fatalf("user-a must stay reachable through remaining device")
	}

	select {
	case <-phone.Done():
	default:
		t.Fatalf("unregister must signal client shutdown")
	}
	select {
	case <-laptop.Done():
		t.Fatalf("other device must not be shut down")
	default:
	}

	r.Unregister(laptop)
	if r.Reachable("user-a") {
		t.Fatalf("user-a must drop out after last device leaves")
	}
	if got := r.Connections("user-a"); got != nil {
		t.Fatalf("expected nil snapshot, got %v", got)
	}
}

func TestMemoryRegistry_OnlineSorted(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(NewClient("charlie", "s1", 8))
	r.Register(NewClient("alice", "s2", 8))
	r.Register(NewClient("bob", "s3", 8))
	r.Register(NewClient("alice", "s4", 8))

	got := r.Online()
	want := []string{"alice", "bob", "charlie"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMemoryRegistry_UnregisterStaleEntry(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	stale := NewClient("user-a", "sess-1", 8)
	fresh := NewClient("user-a", "sess-1", 8)

	r.Register(stale)
	r.Register(fresh) // replaces the map entry for sess-1

	// Unregistering the stale pointer must not evict the fresh connection.
	r.Unregister(stale)

	got := r.Connections("user-a")
	if len(got) != 1 || got[0] != fresh {
		t.Fatalf("expected fresh connection to survive, got %v", got)
	}
}

func TestMemoryRegistry_IgnoresInvalidClients(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(nil)
	r.Register(NewClient("", "sess", 8))
	r.Register(NewClient("user", "", 8))

	if len(r.Online()) != 0 {
		t.Fatalf("expected empty registry, got %v", r.Online())
	}
}

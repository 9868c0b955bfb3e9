package realtime

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the reachability boundary: which users currently have live
// realtime sessions on THIS process. Entries are per-connection, keyed by
// session id under the user, so removing one connection never disturbs a
// user's other devices.
//
// The registry is process-local; a user connected to another
// process behind the load balancer is simply not reachable from here and
// falls back to pull-based delivery. A distributed implementation can be
// swapped in behind this interface without touching relay logic.
type Registry interface {
	// Register adds a client under its user id.
	Register(c *Client)

	// Unregister removes exactly this client and signals its shutdown.
	Unregister(c *Client)

	// Connections returns a snapshot of the user's live clients.
	Connections(userID string) []*Client

	// Reachable reports whether the user has at least one live client.
	Reachable(userID string) bool

	// Online returns the sorted user ids with at least one live client.
	Online() []string
}

// MemoryRegistry is the in-process Registry implementation.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent Connections snapshots.
// - Delivery through a snapshot never blocks registry mutation.
type MemoryRegistry struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client // user id -> session id -> client
}

// NewMemoryRegistry constructs an empty registry.
func NewMemoryRegistry(log *slog.Logger) *MemoryRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryRegistry{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Register adds a client under its user id.
func (r *MemoryRegistry) Register(c *Client) {
	if c == nil || c.UserID == "" || c.SessionID == "" {
		return
	}

	r.mu.Lock()
	sessions := r.users[c.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		r.users[c.UserID] = sessions
	}
	sessions[c.SessionID] = c
	r.mu.Unlock()

	r.log.Info("registry.register", "user_id", c.UserID, "session_id", c.SessionID)
}

// Unregister removes exactly this client and signals shutdown for it.
func (r *MemoryRegistry) Unregister(c *Client) {
	if c == nil || c.UserID == "" || c.SessionID == "" {
		return
	}

	r.mu.Lock()
	if sessions, ok := r.users[c.UserID]; ok {
		// Guard against a stale entry replacing a newer connection with the
		// same session id (cannot happen with ULID session ids, but the
		// check keeps removal strictly per-connection).
		if cur, ok := sessions[c.SessionID]; ok && cur == c {
			delete(sessions, c.SessionID)
		}
		if len(sessions) == 0 {
			delete(r.users, c.UserID)
		}
	}
	r.mu.Unlock()

	// Signal shutdown after removal so no sender still picks this client
	// from a fresh snapshot while its goroutines tear down.
	c.Close()

	r.log.Info("registry.unregister", "user_id", c.UserID, "session_id", c.SessionID)
}

// Connections returns a snapshot of the user's live clients.
func (r *MemoryRegistry) Connections(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.users[userID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(sessions))
	for _, c := range sessions {
		out = append(out, c)
	}
	return out
}

// Reachable reports whether the user has at least one live client.
func (r *MemoryRegistry) Reachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Online returns the sorted user ids with at least one live client.
func (r *MemoryRegistry) Online() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

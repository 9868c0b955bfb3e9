package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_FindOrCreateConversation_Idempotent(t *testing.T) {
	t.Parallel()

	s, _, seed := newChatIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	key := ParticipantsKey(seed.alice, seed.bob)

	conv, created, err := s.FindOrCreateConversation(ctx, key)
	if err != nil {
		t.Fatalf("find-or-create 1: %v", err)
	}
	if !created {
		t.Fatalf("expected creation on first contact")
	}

	again, created, err := s.FindOrCreateConversation(ctx, key)
	if err != nil {
		t.Fatalf("find-or-create 2: %v", err)
	}
	if created || again.ID != conv.ID {
		t.Fatalf("expected same row, got created=%v id=%q want %q", created, again.ID, conv.ID)
	}

	// Direct insert of the same key must conflict.
	_, err = s.CreateConversation(ctx, key)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPostgresStore_FindOrCreateConversation_Concurrent(t *testing.T) {
	t.Parallel()

	s, _, seed := newChatIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := ParticipantsKey(seed.alice, seed.bob)

	// All callers race on the unique participants_key constraint; exactly one
	// insert wins and every loser resolves to the winner's row.
	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var createdCount atomic.Int64

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conv, created, err := s.FindOrCreateConversation(ctx, key)
			ids[i], errs[i] = conv.ID, err
			if created {
				createdCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent find-or-create %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("concurrent find-or-create %d: got %q, want %q", i, ids[i], ids[0])
		}
	}
	if got := createdCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 creation, got %d", got)
	}

	pool := s.pool
	var rows int64
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM `+pgIdent(s.schema, "conversations")+` WHERE participants_key = $1`,
		key,
	).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly 1 conversation row, got %d", rows)
	}
}

func TestPostgresStore_AddParticipantsIfMissing_AtomicOnUnknownUser(t *testing.T) {
	t.Parallel()

	s, _, seed := newChatIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conv, _, err := s.FindOrCreateConversation(ctx, ParticipantsKey(seed.alice, seed.bob))
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}

	// One unknown user in the batch must leave no junction rows behind.
	err = s.AddParticipantsIfMissing(ctx, conv.ID, []string{seed.alice, NewID()})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	members, err := s.Participants(ctx, conv.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no rows after failed batch, got %v", members)
	}
}

func TestPostgresStore_AppendMessage_MembershipAndSeen(t *testing.T) {
	t.Parallel()

	s, _, seed := newChatIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conv, _, err := s.FindOrCreateConversation(ctx, ParticipantsKey(seed.alice, seed.bob))
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if err := s.AddParticipantsIfMissing(ctx, conv.ID, []string{seed.alice, seed.bob}); err != nil {
		t.Fatalf("add participants: %v", err)
	}

	// Carol exists but is not a member of this conversation.
	_, err = s.AppendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID,
		SenderID:       seed.carol,
		Content:        "intruding",
	})
	if !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	for _, text := range []string{"hi", "anyone home?"} {
		if _, err := s.AppendMessage(ctx, AppendMessageInput{
			ConversationID: conv.ID,
			SenderID:       seed.bob,
			Content:        text,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := s.MarkMessagesSeen(ctx, conv.ID, seed.bob)
	if err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows flipped, got %d", n)
	}

	n, err = s.MarkMessagesSeen(ctx, conv.ID, seed.bob)
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent repeat (0, nil), got %d, %v", n, err)
	}
}

func TestPostgresStore_DetailAndSummaries(t *testing.T) {
	t.Parallel()

	s, dir, seed := newChatIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conv, _, err := s.FindOrCreateConversation(ctx, ParticipantsKey(seed.alice, seed.bob))
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if err := s.AddParticipantsIfMissing(ctx, conv.ID, []string{seed.alice, seed.bob}); err != nil {
		t.Fatalf("add participants: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	sends := []struct {
		sender string
		text   string
		at     time.Time
	}{
		{seed.alice, "first", base},
		{seed.bob, "second", base.Add(time.Second)},
		{seed.bob, "third", base.Add(2 * time.Second)},
	}
	for _, in := range sends {
		if _, err := s.AppendMessage(ctx, AppendMessageInput{
			ConversationID: conv.ID,
			SenderID:       in.sender,
			Content:        in.text,
			SentAt:         in.at,
		}); err != nil {
			t.Fatalf("append %q: %v", in.text, err)
		}
	}

	d, err := s.ConversationDetail(ctx, conv.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(d.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(d.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if d.Messages[i].Content != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, d.Messages[i].Content)
		}
	}
	if len(d.Participants) != 2 {
		t.Fatalf("expected 2 participant profiles, got %d", len(d.Participants))
	}

	got, err := s.ConversationSummaries(ctx, seed.alice)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(got))
	}
	if got[0].LastMessage != "third" || got[0].UnreadCount != 2 {
		t.Fatalf("unexpected summary: %+v", got[0])
	}
	if got[0].Peer.ID != seed.bob {
		t.Fatalf("expected peer bob, got %+v", got[0].Peer)
	}

	p, err := dir.Profile(ctx, seed.alice)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Name != "Alice" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if _, err := dir.Profile(ctx, NewID()); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

// ---- harness ----

type chatSeedUsers struct {
	alice string
	bob   string
	carol string
}

func newChatIntegrationStore(t *testing.T) (*PostgresStore, *PostgresDirectory, chatSeedUsers) {
	t.Helper()

	pool := mustOpenChatTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateChatTestSchema(t, pool)
	t.Cleanup(func() { mustDropChatSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	dir, err := NewPostgresDirectory(pool, WithDirectorySchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresDirectory: %v", err)
	}

	seed := chatSeedUsers{alice: NewID(), bob: NewID(), carol: NewID()}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, u := range []struct{ id, name string }{
		{seed.alice, "Alice"},
		{seed.bob, "Bob"},
		{seed.carol, "Carol"},
	} {
		if _, err := pool.Exec(ctx,
			`INSERT INTO `+pgIdent(schema, "users")+` (id, name) VALUES ($1, $2)`,
			u.id, u.name,
		); err != nil {
			t.Fatalf("seed user %s: %v", u.name, err)
		}
	}

	return s, dir, seed
}

func mustOpenChatTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipChatIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateChatTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("rand: %v", err)
	}
	schema := "chat_it_" + hex.EncodeToString(suffix)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropChatSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyChatSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	conversations := pgIdent(schema, "conversations")
	participants := pgIdent(schema, "conversation_participants")
	chats := pgIdent(schema, "chats")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  name TEXT NOT NULL,
  avatar_url TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  participants_key TEXT NOT NULL UNIQUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id UUID NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
  user_id UUID NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
  PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  conversation_id UUID NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
  sent_by UUID NOT NULL REFERENCES %s (id),
  content TEXT NOT NULL CHECK (content <> ''),
  sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  viewed BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
		users,
		conversations,
		participants, conversations, users,
		chats, conversations, users,
	)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipChatIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

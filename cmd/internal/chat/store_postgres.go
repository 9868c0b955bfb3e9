// Package chat contains the conversation store, resolver, and read-side
// query services for the marketplace's two-party messaging core.
package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - The unique constraint on conversations.participants_key is the only
//   serialization point for concurrent first contact; the insert loser
//   re-reads the winner's row.
// - AppendMessage runs membership verification and the insert in one
//   transaction so no partial message state is ever visible.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// CreateConversation inserts a conversation row, failing with ErrConflict on a
// duplicate participants key.
func (s *PostgresStore) CreateConversation(ctx context.Context, participantsKey string) (Conversation, error) {
	const op = "chat.CreateConversation"

	participantsKey = strings.TrimSpace(participantsKey)
	if participantsKey == "" {
		return Conversation{}, opErr(op, ErrInvalidInput, "empty participants key")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, participants_key)
		 VALUES ($1, $2)
		 RETURNING id, participants_key, created_at, updated_at`,
		NewID(), participantsKey,
	).Scan(&conv.ID, &conv.ParticipantsKey, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if isPGCode(err, pgUniqueViolation) {
			return Conversation{}, opErr(op, ErrConflict, "participants_key")
		}
		return Conversation{}, storageErr(op, err)
	}
	return conv, nil
}

// FindOrCreateConversation resolves the key to its single conversation row,
// creating it when absent. The unique constraint guarantees at most one row;
// the loser of a creation race falls through to the find.
func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, participantsKey string) (Conversation, bool, error) {
	const op = "chat.FindOrCreateConversation"

	participantsKey = strings.TrimSpace(participantsKey)
	if participantsKey == "" {
		return Conversation{}, false, opErr(op, ErrInvalidInput, "empty participants key")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, participants_key)
		 VALUES ($1, $2)
		 ON CONFLICT (participants_key) DO NOTHING
		 RETURNING id, participants_key, created_at, updated_at`,
		NewID(), participantsKey,
	).Scan(&conv.ID, &conv.ParticipantsKey, &conv.CreatedAt, &conv.UpdatedAt)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, storageErr(op, err)
	}

	// Conflict path: another caller won the insert; read their row.
	err = s.pool.QueryRow(ctx,
		`SELECT id, participants_key, created_at, updated_at
		   FROM `+conversations+`
		  WHERE participants_key = $1`,
		participantsKey,
	).Scan(&conv.ID, &conv.ParticipantsKey, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Insert conflicted but the row is gone: only possible if it was
		// deleted in between, which normal operation never does.
		return Conversation{}, false, opErr(op, ErrNotFound, "conversation vanished after conflict")
	}
	if err != nil {
		return Conversation{}, false, storageErr(op, err)
	}
	return conv, false, nil
}

// Participants returns the member user ids of a conversation.
func (s *PostgresStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	const op = "chat.Participants"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	participants := pgIdent(s.schema, "conversation_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+participants+` WHERE conversation_id = $1`,
		conversationID,
	)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// AddParticipantsIfMissing inserts only junction rows not already present.
// One statement for all rows: either every missing entry is inserted or,
// on an FK failure, none are.
func (s *PostgresStore) AddParticipantsIfMissing(ctx context.Context, conversationID string, userIDs []string) error {
	const op = "chat.AddParticipantsIfMissing"

	if len(userIDs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	participants := pgIdent(s.schema, "conversation_participants")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+participants+` (conversation_id, user_id)
		 SELECT $1, u::uuid FROM unnest($2::text[]) AS u
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userIDs,
	)
	if err != nil {
		if isPGCode(err, pgForeignKeyViolation) {
			return opErr(op, ErrNotFound, "conversation or user")
		}
		return storageErr(op, err)
	}
	return nil
}

// AppendMessage persists one message inside a single transaction, verifying
// the conversation exists and the sender is a participant before inserting.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	if strings.TrimSpace(in.Content) == "" {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, storageErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")
	chats := pgIdent(s.schema, "chats")

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM `+conversations+` WHERE id = $1`,
		in.ConversationID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, opErr(op, ErrNotFound, "conversation")
	}
	if err != nil {
		return Message{}, storageErr(op, err)
	}

	err = tx.QueryRow(ctx,
		`SELECT 1 FROM `+participants+` WHERE conversation_id = $1 AND user_id = $2`,
		in.ConversationID, in.SenderID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, opErr(op, ErrForbidden, "sender is not a participant")
	}
	if err != nil {
		return Message{}, storageErr(op, err)
	}

	msg := Message{
		ID:             NewID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		SentAt:         sentAt,
		Viewed:         false,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO `+chats+` (id, conversation_id, sent_by, content, sent_at, viewed)
		 VALUES ($1, $2, $3, $4, $5, false)
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.SentAt,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, storageErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, storageErr(op, err)
	}
	return msg, nil
}

// MarkMessagesSeen flips viewed=true on unviewed messages authored by
// peerSenderID. Monotonic: rows already viewed are untouched.
func (s *PostgresStore) MarkMessagesSeen(ctx context.Context, conversationID, peerSenderID string) (int64, error) {
	const op = "chat.MarkMessagesSeen"

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	chats := pgIdent(s.schema, "chats")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+chats+`
		    SET viewed = true
		  WHERE conversation_id = $1
		    AND sent_by = $2
		    AND viewed = false`,
		conversationID, peerSenderID,
	)
	if err != nil {
		return 0, storageErr(op, err)
	}
	return tag.RowsAffected(), nil
}

// ConversationDetail loads the fixed detail shape: the conversation row, its
// messages ordered by sent_at ascending with sender profiles, and the
// participant profiles.
func (s *PostgresStore) ConversationDetail(ctx context.Context, conversationID string) (Detail, error) {
	const op = "chat.ConversationDetail"

	if err := ctx.Err(); err != nil {
		return Detail{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")
	chats := pgIdent(s.schema, "chats")
	users := pgIdent(s.schema, "users")

	var d Detail
	err := s.pool.QueryRow(ctx,
		`SELECT id, participants_key, created_at, updated_at
		   FROM `+conversations+`
		  WHERE id = $1`,
		conversationID,
	).Scan(&d.Conversation.ID, &d.Conversation.ParticipantsKey, &d.Conversation.CreatedAt, &d.Conversation.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Detail{}, opErr(op, ErrNotFound, "conversation")
	}
	if err != nil {
		return Detail{}, storageErr(op, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sent_by, m.content, m.sent_at, m.viewed, m.created_at,
		        u.name, COALESCE(u.avatar_url, '')
		   FROM `+chats+` m
		   JOIN `+users+` u ON u.id = m.sent_by
		  WHERE m.conversation_id = $1
		  ORDER BY m.sent_at ASC, m.created_at ASC`,
		conversationID,
	)
	if err != nil {
		return Detail{}, storageErr(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var dm DetailMessage
		if err := rows.Scan(
			&dm.ID, &dm.ConversationID, &dm.SenderID, &dm.Content, &dm.SentAt, &dm.Viewed, &dm.CreatedAt,
			&dm.Sender.Name, &dm.Sender.AvatarURL,
		); err != nil {
			return Detail{}, storageErr(op, err)
		}
		dm.Sender.ID = dm.SenderID
		d.Messages = append(d.Messages, dm)
	}
	if err := rows.Err(); err != nil {
		return Detail{}, storageErr(op, err)
	}

	prows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, COALESCE(u.avatar_url, '')
		   FROM `+participants+` p
		   JOIN `+users+` u ON u.id = p.user_id
		  WHERE p.conversation_id = $1`,
		conversationID,
	)
	if err != nil {
		return Detail{}, storageErr(op, err)
	}
	defer prows.Close()

	for prows.Next() {
		var p Profile
		if err := prows.Scan(&p.ID, &p.Name, &p.AvatarURL); err != nil {
			return Detail{}, storageErr(op, err)
		}
		d.Participants = append(d.Participants, p)
	}
	if err := prows.Err(); err != nil {
		return Detail{}, storageErr(op, err)
	}

	return d, nil
}

// ConversationSummaries computes the conversation list for a user in one
// aggregate query: latest message per conversation plus the unread count of
// peer-authored unviewed messages. Conversations without messages are
// filtered out by the lateral join.
func (s *PostgresStore) ConversationSummaries(ctx context.Context, userID string) ([]Summary, error) {
	const op = "chat.ConversationSummaries"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")
	chats := pgIdent(s.schema, "chats")
	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id,
		        lm.content, lm.sent_at,
		        peer.user_id, u.name, COALESCE(u.avatar_url, ''),
		        (SELECT count(*) FROM `+chats+` m
		          WHERE m.conversation_id = c.id
		            AND m.sent_by <> $1
		            AND m.viewed = false)
		   FROM `+conversations+` c
		   JOIN `+participants+` me
		     ON me.conversation_id = c.id AND me.user_id = $1
		   JOIN `+participants+` peer
		     ON peer.conversation_id = c.id AND peer.user_id <> $1
		   JOIN `+users+` u ON u.id = peer.user_id
		   JOIN LATERAL (
		        SELECT content, sent_at
		          FROM `+chats+` m
		         WHERE m.conversation_id = c.id
		         ORDER BY m.sent_at DESC, m.created_at DESC
		         LIMIT 1
		   ) lm ON true
		  ORDER BY lm.sent_at DESC`,
		userID,
	)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(
			&sm.ConversationID,
			&sm.LastMessage, &sm.Timestamp,
			&sm.Peer.ID, &sm.Peer.Name, &sm.Peer.AvatarURL,
			&sm.UnreadCount,
		); err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// ---- identifiers ----

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func isPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/liebestraumm/react-native-app-backend/cmd/internal/chat"
	"github.com/liebestraumm/react-native-app-backend/cmd/internal/metrics"
	v1 "github.com/liebestraumm/react-native-app-backend/shared/contracts/chat/v1"
)

// MessageStore is the slice of the conversation store the relay uses. All
// message mutations go through the two transactional operations; Participants
// gates fan-out so a delivery never reaches a user outside the conversation.
type MessageStore interface {
	AppendMessage(ctx context.Context, in chat.AppendMessageInput) (chat.Message, error)
	MarkMessagesSeen(ctx context.Context, conversationID, peerSenderID string) (int64, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// Relay translates realtime client events into storage operations and
// fan-out notifications.
//
// Two-phase rule: persistence commits first, then notifications are emitted.
// A notification that cannot be enqueued is logged and dropped; it never
// rolls back the committed write. A persistence failure means no
// notification reaches the recipient at all.
type Relay struct {
	log      *slog.Logger
	store    MessageStore
	registry Registry
}

// NewRelay constructs a Relay.
func NewRelay(log *slog.Logger, store MessageStore, registry Registry) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{log: log, store: store, registry: registry}
}

// NewMessage handles a chat:new event from sender: persist transactionally,
// ack the originating connection, then deliver to every reachable connection
// of the recipient. An unreachable recipient is not an error; the message is
// durable and surfaces on their next fetch.
func (r *Relay) NewMessage(ctx context.Context, sender *Client, p v1.ChatNewPayload) error {
	const op = "relay.NewMessage"

	if !chat.ValidID(p.ConversationID) || !chat.ValidID(p.To) {
		metrics.MessagesRelayed.WithLabelValues("rejected").Inc()
		return chat.OpError{Op: op, Kind: chat.ErrInvalidInput, Msg: "malformed conversation or recipient id"}
	}
	text := strings.TrimSpace(p.Message.Text)
	if text == "" {
		metrics.MessagesRelayed.WithLabelValues("rejected").Inc()
		return chat.OpError{Op: op, Kind: chat.ErrInvalidInput, Msg: "empty text"}
	}
	if len([]rune(text)) > maxMessageChars {
		metrics.MessagesRelayed.WithLabelValues("rejected").Inc()
		return chat.OpError{Op: op, Kind: chat.ErrInvalidInput, Msg: "message too long"}
	}

	stored, err := r.store.AppendMessage(ctx, chat.AppendMessageInput{
		ConversationID: p.ConversationID,
		SenderID:       sender.UserID,
		Content:        text,
		SentAt:         p.Message.Time,
	})
	if err != nil {
		metrics.MessagesRelayed.WithLabelValues("error").Inc()
		return err
	}

	// The sender's claimed profile is passed through for rendering, but the
	// identity is always the authenticated connection's user.
	profile := p.Message.User
	profile.ID = sender.UserID

	payload, _ := json.Marshal(v1.ChatMessagePayload{
		ConversationID: stored.ConversationID,
		From:           sender.UserID,
		Message: v1.Message{
			ID:     stored.ID,
			Time:   stored.SentAt,
			Text:   stored.Content,
			Viewed: false,
			User:   profile,
		},
	})
	env := newEnvelope(v1.TypeChatMessage, payload, stored.SentAt)

	// Ack exactly once, to the originating connection only.
	if !enqueue(ctx, sender, env) {
		r.log.Warn("relay.ack.drop", "session_id", sender.SessionID, "message_id", stored.ID)
	}

	// Fan-out only to a recipient who is actually in the conversation. The
	// sender was verified inside the append transaction; without this check
	// any participant could push chat:message frames to arbitrary online
	// users by naming them in "to".
	delivered := 0
	if r.recipientIsParticipant(ctx, p.ConversationID, p.To) {
		for _, conn := range r.registry.Connections(p.To) {
			if enqueue(ctx, conn, env) {
				delivered++
			} else {
				metrics.DeliveriesDropped.Inc()
			}
		}
	} else {
		r.log.Warn("relay.deliver.skip_nonparticipant",
			"conversation_id", stored.ConversationID,
			"message_id", stored.ID,
			"to", p.To,
		)
	}

	metrics.MessagesRelayed.WithLabelValues("ok").Inc()
	r.log.Info("relay.message",
		"conversation_id", stored.ConversationID,
		"message_id", stored.ID,
		"recipient_reachable", delivered > 0,
		"deliveries", delivered,
	)
	return nil
}

// recipientIsParticipant reports whether userID belongs to the conversation.
// A lookup failure counts as "no": delivery is best-effort and the message is
// already durable, so the safe default is to skip the push.
func (r *Relay) recipientIsParticipant(ctx context.Context, conversationID, userID string) bool {
	members, err := r.store.Participants(ctx, conversationID)
	if err != nil {
		r.log.Warn("relay.members.fail", "conversation_id", conversationID, "err", err)
		return false
	}
	for _, id := range members {
		if id == userID {
			return true
		}
	}
	return false
}

// Seen handles a chat:seen event: mark the peer's messages viewed, then
// forward a seen notification to the peer if reachable. The forward leg is
// best-effort; its failure is logged and swallowed.
func (r *Relay) Seen(ctx context.Context, sender *Client, p v1.ChatSeenPayload) error {
	const op = "relay.Seen"

	if !chat.ValidID(p.ConversationID) || !chat.ValidID(p.PeerID) {
		return chat.OpError{Op: op, Kind: chat.ErrInvalidInput, Msg: "malformed conversation or peer id"}
	}

	n, err := r.store.MarkMessagesSeen(ctx, p.ConversationID, p.PeerID)
	if err != nil {
		return err
	}
	metrics.SeenUpdates.Add(float64(n))

	payload, _ := json.Marshal(v1.ChatSeenPayload{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		PeerID:         p.PeerID,
		SeenBy:         sender.UserID,
	})
	env := newEnvelope(v1.TypeChatSeen, payload, time.Now().UTC())

	for _, conn := range r.registry.Connections(p.PeerID) {
		if !enqueue(ctx, conn, env) {
			r.log.Info("relay.seen.drop", "peer_id", p.PeerID, "session_id", conn.SessionID)
		}
	}
	return nil
}

// Typing handles a chat:typing event. Stateless: forwarded to the target's
// reachable connections, never persisted, never acknowledged, never retried.
func (r *Relay) Typing(ctx context.Context, sender *Client, p v1.ChatTypingPayload) {
	if p.To == "" {
		return
	}

	payload, _ := json.Marshal(v1.ChatTypingPayload{
		From:   sender.UserID,
		Typing: p.Typing,
	})
	env := newEnvelope(v1.TypeChatTyping, payload, time.Now().UTC())

	for _, conn := range r.registry.Connections(p.To) {
		_ = enqueue(ctx, conn, env)
	}
	metrics.TypingForwarded.Inc()
}

// Status answers a chat:status request with the currently reachable user ids.
func (r *Relay) Status(ctx context.Context, sender *Client) {
	payload, _ := json.Marshal(v1.ChatStatusPayload{Online: r.registry.Online()})
	env := newEnvelope(v1.TypeChatStatus, payload, time.Now().UTC())
	_ = enqueue(ctx, sender, env)
}

// ---- send helpers (shared with the gateway) ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, err := NewEnvelopeID(ts)
	if err != nil || id == "" {
		id = NewRandomHex(10)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

// enqueue is a non-blocking targeted send: drops when the client queue is
// full or the client is shutting down.
func enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

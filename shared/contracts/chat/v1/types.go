// Package v1 defines the chat realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Event type constants (wire-stable; names carried over from the mobile client).
const (
	// TypeChatNew requests persisting and relaying a new message (client -> server).
	TypeChatNew = "chat:new"
	// TypeChatMessage delivers an accepted message (server -> sender as ack, server -> recipient).
	TypeChatMessage = "chat:message"

	// TypeChatSeen marks a peer's messages viewed (client -> server) and is forwarded to the peer.
	TypeChatSeen = "chat:seen"

	// TypeChatTyping relays a typing indicator (client -> server -> target). Never persisted.
	TypeChatTyping = "chat:typing"

	// TypeChatStatus requests the currently reachable user ids (client -> server).
	TypeChatStatus = "chat:status"

	// TypeChatError reports a failed client action on the same connection (server -> client).
	TypeChatError = "chat:error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeChatNew,
		TypeChatMessage,
		TypeChatSeen,
		TypeChatTyping,
		TypeChatStatus,
		TypeChatError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// Profile identifies a message sender as rendered by clients.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is the client-facing message shape.
// ID is server-assigned; Time may be client-supplied on send.
type Message struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
	Viewed bool      `json:"viewed"`
	User   Profile   `json:"user"`
}

// ChatNewPayload requests relaying a new message to a recipient.
type ChatNewPayload struct {
	ConversationID string  `json:"conversationId"`
	To             string  `json:"to"`
	Message        Message `json:"message"`
}

// ChatMessagePayload delivers an accepted message (ack and recipient fanout share this shape).
type ChatMessagePayload struct {
	ConversationID string  `json:"conversationId"`
	From           string  `json:"from"`
	Message        Message `json:"message"`
}

// ChatSeenPayload marks the peer's messages in a conversation as viewed.
// On the forward leg SeenBy carries the acknowledging user.
type ChatSeenPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	PeerID         string `json:"peerId"`
	SeenBy         string `json:"seenBy,omitempty"`
}

// ChatTypingPayload relays a typing indicator to a target user.
type ChatTypingPayload struct {
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	Typing bool   `json:"typing"`
}

// ChatStatusPayload answers a status request with reachable user ids.
type ChatStatusPayload struct {
	Online []string `json:"online"`
}

// ChatErrorPayload is the generic error response payload.
type ChatErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

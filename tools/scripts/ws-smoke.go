// Package main provides a CI-friendly WebSocket smoke test for the chat
// realtime gateway.
//
// It validates:
//   - authenticated handshake + subprotocol selection
//   - chat:new -> ack to the sender
//   - fanout chat:message to the recipient's connection
//   - chat:seen forwarded back to the original sender
//   - chat:typing forwarded to the target
//   - chat:status reply
//
// The two participants and the conversation must already exist; resolve the
// conversation over the REST API first and pass its id via -conv.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/liebestraumm/react-native-app-backend/cmd/security/token"
	v1 "github.com/liebestraumm/react-native-app-backend/shared/contracts/chat/v1"
)

const (
	defaultSubprotocol = "chat.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8989/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		convID  = flag.String("conv", "", "Conversation ID (resolve via REST first)")
		userA   = flag.String("user-a", "", "Sender user id (UUID)")
		userB   = flag.String("user-b", "", "Recipient user id (UUID)")
		text    = flag.String("text", "hello 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *convID == "" || *userA == "" || *userB == "" {
		fatalf("-conv, -user-a and -user-b are required")
	}

	secret, err := token.SecretFromEnv(32)
	if err != nil {
		fatalf("read %s: %v", token.SecretEnvKey, err)
	}
	tokens, err := token.NewManager(secret)
	if err != nil {
		fatalf("token manager: %v", err)
	}
	now := time.Now().UTC()
	tokenA, _, err := tokens.Issue(*userA, now)
	if err != nil {
		fatalf("issue token A: %v", err)
	}
	tokenB, _, err := tokens.Issue(*userB, now)
	if err != nil {
		fatalf("issue token B: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *userA, tokenA, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, tokenB, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	msgID := mustSendAndAssertAck(root, a, *convID, b.userID, *text, *timeout)

	mustAssertDelivery(root, b, *convID, a.userID, msgID, *text, *timeout)

	mustSeenRoundTrip(root, b, a, *convID, msgID, *timeout)

	mustTypingForward(root, a, b, *timeout)

	mustStatusReply(root, a, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s message_id=%s\n", a.userID, b.userID, *convID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, bearer, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+bearer)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, convID, toUserID, text string, stepTimeout time.Duration) (messageID string) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeChatNew,
		ID:   fmt.Sprintf("%s-send-%d", c.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ChatNewPayload{
			ConversationID: convID,
			To:             toUserID,
			Message: v1.Message{
				Time: time.Now().UTC(),
				Text: text,
				User: v1.Profile{ID: c.userID},
			},
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeChatMessage, stepTimeout, nil)

	var p v1.ChatMessagePayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal ack payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("ack conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.From != c.userID {
		fatalf("ack from mismatch (%s): got=%q want=%q", c.name, p.From, c.userID)
	}
	if strings.TrimSpace(p.Message.ID) == "" {
		fatalf("ack missing message id (%s)", c.name)
	}
	if p.Message.Text != text {
		fatalf("ack text mismatch (%s): got=%q want=%q", c.name, p.Message.Text, text)
	}
	if p.Message.Viewed {
		fatalf("ack message must start unviewed (%s)", c.name)
	}
	return p.Message.ID
}

func mustAssertDelivery(parent context.Context, c *smokeClient, convID, fromUserID, messageID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeChatMessage, stepTimeout, nil)

	var p v1.ChatMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal delivery payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("delivery conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.From != fromUserID {
		fatalf("delivery from mismatch (%s): got=%q want=%q", c.name, p.From, fromUserID)
	}
	if p.Message.ID != messageID {
		fatalf("delivery message id mismatch (%s): got=%q want=%q", c.name, p.Message.ID, messageID)
	}
	if p.Message.Text != text {
		fatalf("delivery text mismatch (%s): got=%q want=%q", c.name, p.Message.Text, text)
	}
}

func mustSeenRoundTrip(parent context.Context, viewer, sender *smokeClient, convID, messageID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeChatSeen,
		ID:   fmt.Sprintf("%s-seen-%d", viewer.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ChatSeenPayload{
			ConversationID: convID,
			MessageID:      messageID,
			PeerID:         sender.userID,
		}),
	}
	mustWriteWithTimeout(parent, viewer.conn, env, stepTimeout)

	fwd := sender.mustReadUntilType(parent, v1.TypeChatSeen, stepTimeout, nil)

	var p v1.ChatSeenPayload
	if err := json.Unmarshal(fwd.Payload, &p); err != nil {
		fatalf("unmarshal seen payload (%s): %v", sender.name, err)
	}
	if p.ConversationID != convID {
		fatalf("seen conv_id mismatch (%s): got=%q want=%q", sender.name, p.ConversationID, convID)
	}
	if p.SeenBy != viewer.userID {
		fatalf("seen_by mismatch (%s): got=%q want=%q", sender.name, p.SeenBy, viewer.userID)
	}
}

func mustTypingForward(parent context.Context, from, to *smokeClient, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeChatTyping,
		ID:   fmt.Sprintf("%s-typing-%d", from.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ChatTypingPayload{
			To:     to.userID,
			Typing: true,
		}),
	}
	mustWriteWithTimeout(parent, from.conn, env, stepTimeout)

	fwd := to.mustReadUntilType(parent, v1.TypeChatTyping, stepTimeout, nil)

	var p v1.ChatTypingPayload
	if err := json.Unmarshal(fwd.Payload, &p); err != nil {
		fatalf("unmarshal typing payload (%s): %v", to.name, err)
	}
	if p.From != from.userID {
		fatalf("typing from mismatch (%s): got=%q want=%q", to.name, p.From, from.userID)
	}
	if !p.Typing {
		fatalf("typing flag not set (%s)", to.name)
	}
}

func mustStatusReply(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatStatus,
		ID:      fmt.Sprintf("%s-status-%d", c.name, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(struct{}{}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	reply := c.mustReadUntilType(parent, v1.TypeChatStatus, stepTimeout, nil)

	var p v1.ChatStatusPayload
	if err := json.Unmarshal(reply.Payload, &p); err != nil {
		fatalf("unmarshal status payload (%s): %v", c.name, err)
	}
	if len(p.Online) == 0 {
		fatalf("status reply lists nobody online (%s)", c.name)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeChatError {
				var ep v1.ChatErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

// Package chatapi exposes the conversation REST surface consumed by the
// mobile client: conversation resolution, thread fetch, inbox listing, and
// seen-status updates.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/liebestraumm/react-native-app-backend/cmd/internal/chat"
	"github.com/liebestraumm/react-native-app-backend/cmd/security/token"
)

type ctxKey uint8

const userIDKey ctxKey = 1

// TokenVerifier validates a bearer credential. Satisfied by token.Manager.
type TokenVerifier interface {
	Verify(raw string, now time.Time) (token.Claims, error)
}

// Handler wires conversation HTTP endpoints to the resolver and query
// service.
type Handler struct {
	log      *slog.Logger
	resolver *chat.Resolver
	query    *chat.QueryService
	store    chat.Store
	users    chat.UserDirectory
	tokens   TokenVerifier
}

// NewHandler constructs a conversation Handler.
func NewHandler(log *slog.Logger, resolver *chat.Resolver, query *chat.QueryService, store chat.Store, users chat.UserDirectory, tokens TokenVerifier) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:      log,
		resolver: resolver,
		query:    query,
		store:    store,
		users:    users,
		tokens:   tokens,
	}
}

// Register wires conversation routes onto the provided mux.
//
// "list" is registered before the {conversationId} wildcard; Go's mux picks
// the more specific literal pattern, so /api/conversation/list never binds
// as a conversation id.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("POST /api/conversation/{peerId}", h.requireAuth(h.handleResolve))
	mux.Handle("GET /api/conversation/list", h.requireAuth(h.handleLastChats))
	mux.Handle("GET /api/conversation/{conversationId}", h.requireAuth(h.handleDetail))
	mux.Handle("PATCH /api/conversation/{conversationId}/seen/{peerId}", h.requireAuth(h.handleSeen))
}

// ---- handlers ----

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("peerId")
	selfID := requestUserID(r)

	convID, err := h.resolver.Resolve(r.Context(), selfID, peerID)
	if err != nil {
		switch {
		case chat.IsInvalidInput(err):
			writeError(w, http.StatusUnprocessableEntity, "Invalid peer id!")
		case chat.IsNotFound(err):
			writeError(w, http.StatusNotFound, "User not found!")
		default:
			h.log.Error("chat.api.resolve.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "Something went wrong!")
		}
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{ConversationID: convID})
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("conversationId")
	selfID := requestUserID(r)

	view, err := h.query.ConversationDetail(r.Context(), convID, selfID)
	if err != nil {
		switch {
		case chat.IsInvalidInput(err):
			writeError(w, http.StatusUnprocessableEntity, "Invalid conversation id!")
		case chat.IsForbidden(err):
			writeError(w, http.StatusForbidden, "You are not a participant of this conversation!")
		case chat.IsNotFound(err):
			writeError(w, http.StatusNotFound, "Conversation not found!")
		default:
			h.log.Error("chat.api.detail.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "Something went wrong!")
		}
		return
	}

	writeJSON(w, http.StatusOK, conversationDetailResponse{Conversation: toConversationResponse(view)})
}

func (h *Handler) handleLastChats(w http.ResponseWriter, r *http.Request) {
	selfID := requestUserID(r)

	summaries, err := h.query.ConversationSummaries(r.Context(), selfID)
	if err != nil {
		h.log.Error("chat.api.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong!")
		return
	}

	writeJSON(w, http.StatusOK, toLastChatsResponse(summaries))
}

func (h *Handler) handleSeen(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("conversationId")
	peerID := r.PathValue("peerId")

	if !chat.ValidID(convID) || !chat.ValidID(peerID) {
		writeError(w, http.StatusUnprocessableEntity, "Invalid conversation or peer id!")
		return
	}

	if _, err := h.store.MarkMessagesSeen(r.Context(), convID, peerID); err != nil {
		h.log.Error("chat.api.seen.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong!")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Updated successfully."})
}

// ---- auth middleware ----

// requireAuth authenticates the bearer credential and confirms the subject
// still exists before invoking next. An expired credential is reported
// distinctly so the client can refresh instead of logging out.
func (h *Handler) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusForbidden, "Unauthorized request")
			return
		}

		claims, err := h.tokens.Verify(raw, time.Now().UTC())
		if err != nil {
			if errors.Is(err, token.ErrExpired) {
				writeError(w, http.StatusUnauthorized, "Session expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized access")
			return
		}

		if _, err := h.users.Profile(r.Context(), claims.UserID); err != nil {
			if chat.IsNotFound(err) {
				writeError(w, http.StatusForbidden, "Unauthorized request")
				return
			}
			h.log.Error("chat.api.auth.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "Something went wrong!")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.UserID)))
	})
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

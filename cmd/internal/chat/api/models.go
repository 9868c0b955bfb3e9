package chatapi

import (
	"time"

	"github.com/liebestraumm/react-native-app-backend/cmd/internal/chat"
)

// Wire shapes for the REST surface. Field names follow the mobile client's
// contract and must not change casually.

type profileResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type chatResponse struct {
	ID   string          `json:"id"`
	Text string          `json:"text"`
	Time time.Time       `json:"time"`
	User profileResponse `json:"user"`
}

type conversationResponse struct {
	ID          string          `json:"id"`
	Chats       []chatResponse  `json:"chats"`
	PeerProfile profileResponse `json:"peerProfile"`
}

type resolveResponse struct {
	ConversationID string `json:"conversationId"`
}

type conversationDetailResponse struct {
	Conversation conversationResponse `json:"conversation"`
}

type lastChatResponse struct {
	ID               string          `json:"id"`
	LastMessage      string          `json:"lastMessage"`
	Timestamp        time.Time       `json:"timestamp"`
	UnreadChatCounts int64           `json:"unreadChatCounts"`
	PeerProfile      profileResponse `json:"peerProfile"`
}

type lastChatsResponse struct {
	Chats []lastChatResponse `json:"chats"`
}

func toProfileResponse(p chat.Profile) profileResponse {
	return profileResponse{ID: p.ID, Name: p.Name, Avatar: p.AvatarURL}
}

func toConversationResponse(v chat.ConversationView) conversationResponse {
	chats := make([]chatResponse, 0, len(v.Messages))
	for _, m := range v.Messages {
		chats = append(chats, chatResponse{
			ID:   m.ID,
			Text: m.Content,
			Time: m.SentAt,
			User: toProfileResponse(m.Sender),
		})
	}
	return conversationResponse{
		ID:          v.ID,
		Chats:       chats,
		PeerProfile: toProfileResponse(v.Peer),
	}
}

func toLastChatsResponse(summaries []chat.Summary) lastChatsResponse {
	chats := make([]lastChatResponse, 0, len(summaries))
	for _, s := range summaries {
		chats = append(chats, lastChatResponse{
			ID:               s.ConversationID,
			LastMessage:      s.LastMessage,
			Timestamp:        s.Timestamp,
			UnreadChatCounts: s.UnreadCount,
			PeerProfile:      toProfileResponse(s.Peer),
		})
	}
	return lastChatsResponse{Chats: chats}
}

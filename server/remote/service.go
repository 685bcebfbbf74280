package remote

import (
	"context"

	"carecomms/server/domain"
)

// ChatService is the boundary to the real-time hub. Implementations are
// assumed to be backed by a live backend whose internal protocol is not this
// node's concern; the orchestrator only relies on these semantics.
type ChatService interface {
	// ChatList and Messages are push streams: the current state first, then
	// a new snapshot on every remote change, until ctx ends.
	ChatList(ctx context.Context, ownerID string) (<-chan []domain.ChatPreview, error)
	Messages(ctx context.Context, chatID string) (<-chan []domain.Message, error)
	SearchChats(ctx context.Context, ownerID, query string) (<-chan []domain.ChatPreview, error)
	TypingStatus(ctx context.Context, chatID string) (<-chan domain.TypingStatus, error)

	SendMessage(ctx context.Context, chatID string, msg domain.Message) error
	MarkAsRead(ctx context.Context, chatID, messageID string) error
	MarkAllAsRead(ctx context.Context, chatID, viewerID string) error
	SetTypingStatus(ctx context.Context, chatID string, status domain.TypingStatus) error
	CreateChat(ctx context.Context, carerID, careeID string) (string, error)
	ChatID(ctx context.Context, carerID, careeID string) (string, error)
	UpdateUser(ctx context.Context, user domain.User) error
	AcceptInvitation(ctx context.Context, token, careeID string) error
}

package domain

import "time"

type MessageStatus string
type MessageType string
type UserRole string
type InvitationStatus string
type PendingOpType string
type ConnectionQuality string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// rank orders statuses so transitions can only move forward.
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	}
	return -1
}

func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

const (
	UserRoleCarer UserRole = "carer"
	UserRoleCaree UserRole = "caree"
)

const (
	InvitationStatusCreated  InvitationStatus = "created"
	InvitationStatusConsumed InvitationStatus = "consumed"
	InvitationStatusRevoked  InvitationStatus = "revoked"
)

const (
	PendingOpSendMessage      PendingOpType = "send_message"
	PendingOpMarkRead         PendingOpType = "mark_read"
	PendingOpUpdateUser       PendingOpType = "update_user"
	PendingOpAcceptInvitation PendingOpType = "accept_invitation"
)

const (
	QualityOffline ConnectionQuality = "offline"
	QualityPoor    ConnectionQuality = "poor"
	QualityGood    ConnectionQuality = "good"
)

type User struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Role         UserRole `json:"role"`
	PasswordHash string   `json:"-"`
	CreatedAt    int64    `json:"created_at"`
}

type Chat struct {
	ID           string `json:"id"`
	CarerID      string `json:"carer_id"`
	CareeID      string `json:"caree_id"`
	CreatedAt    int64  `json:"created_at"`
	LastActivity int64  `json:"last_activity"`
}

type Message struct {
	ID           string        `json:"id"`
	ChatID       string        `json:"chat_id"`
	SenderID     string        `json:"sender_id"`
	Content      string        `json:"content"`
	AttachmentID string        `json:"attachment_id,omitempty"`
	Timestamp    int64         `json:"timestamp"`
	Status       MessageStatus `json:"status"`
	Type         MessageType   `json:"type"`
}

// ChatPreview is a read-only projection for inbox rendering. It is never
// stored; it is recomputed from Chat, latest Message, and the unread tally.
type ChatPreview struct {
	ChatID          string `json:"chat_id"`
	CareeName       string `json:"caree_name"`
	LastMessage     string `json:"last_message"`
	LastMessageTime int64  `json:"last_message_time"`
	UnreadCount     int64  `json:"unread_count"`
	IsOnline        bool   `json:"is_online"`
}

// TypingStatus is ephemeral: it lives only on an active subscription and has
// no durable representation.
type TypingStatus struct {
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
	Timestamp int64  `json:"timestamp"`
}

type Invitation struct {
	Token          string           `json:"token"`
	CarerID        string           `json:"carer_id"`
	CarerName      string           `json:"carer_name"`
	ExpirationTime int64            `json:"expiration_time"`
	Status         InvitationStatus `json:"status"`
	CreatedAt      int64            `json:"created_at"`
}

func (i Invitation) Expired(now int64) bool {
	return now >= i.ExpirationTime
}

type CacheEntry struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	ExpirationTime *int64 `json:"expiration_time,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

type PendingOp struct {
	ID         string        `json:"id"`
	Type       PendingOpType `json:"type"`
	Payload    string        `json:"payload"`
	Timestamp  int64         `json:"timestamp"`
	RetryCount int           `json:"retry_count"`
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

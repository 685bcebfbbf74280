package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"carecomms/server/domain"
)

// CreateChat is idempotent per (carer, caree): an existing pair returns its
// chat id instead of creating a duplicate.
func (s *Store) CreateChat(ctx context.Context, carerID, careeID string) (string, error) {
	if id, err := s.GetChatID(ctx, carerID, careeID); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	id := uuid.NewString()
	now := domain.NowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, carer_id, caree_id, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?)
	`, id, carerID, careeID, now, now)
	if err != nil {
		// Lost a race with a concurrent create for the same pair.
		if strings.Contains(err.Error(), "UNIQUE") {
			return s.GetChatID(ctx, carerID, careeID)
		}
		return "", err
	}
	s.notify(id)
	return id, nil
}

// MirrorChat records a chat whose id was assigned elsewhere, typically by the
// hub. An existing pair wins: the established local id is returned unchanged.
func (s *Store) MirrorChat(ctx context.Context, id, carerID, careeID string) (string, error) {
	if existing, err := s.GetChatID(ctx, carerID, careeID); err != nil {
		return "", err
	} else if existing != "" {
		return existing, nil
	}
	now := domain.NowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chats (id, carer_id, caree_id, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?)
	`, id, carerID, careeID, now, now)
	if err != nil {
		return "", err
	}
	s.notify(id)
	return id, nil
}

// GetChatID is a pure lookup; empty string means no chat exists for the pair.
func (s *Store) GetChatID(ctx context.Context, carerID, careeID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM chats WHERE carer_id = ? AND caree_id = ?
	`, carerID, careeID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (domain.Chat, error) {
	var chat domain.Chat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, carer_id, caree_id, created_at, last_activity
		FROM chats WHERE id = ?
	`, chatID).Scan(&chat.ID, &chat.CarerID, &chat.CareeID, &chat.CreatedAt, &chat.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chat{}, errNoChat(chatID)
	}
	return chat, err
}

// ListPreviews projects every chat the owner participates in, newest activity
// first. The unread tally counts only messages the owner did not send; the
// last-message text collapses image messages to a placeholder.
func (s *Store) ListPreviews(ctx context.Context, ownerID string) ([]domain.ChatPreview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id,
			COALESCE(peer.name, ''),
			COALESCE((
				SELECT CASE WHEN m.type = 'image' THEN '[photo]' ELSE m.content END
				FROM messages m WHERE m.chat_id = c.id
				ORDER BY m.timestamp DESC, m.rowid DESC LIMIT 1
			), ''),
			COALESCE((
				SELECT m.timestamp FROM messages m WHERE m.chat_id = c.id
				ORDER BY m.timestamp DESC, m.rowid DESC LIMIT 1
			), c.created_at),
			(
				SELECT COUNT(*) FROM messages m
				WHERE m.chat_id = c.id AND m.sender_id <> ? AND m.status <> 'read'
			)
		FROM chats c
		LEFT JOIN users peer
			ON peer.id = CASE WHEN c.carer_id = ? THEN c.caree_id ELSE c.carer_id END
		WHERE c.carer_id = ? OR c.caree_id = ?
		ORDER BY c.last_activity DESC, c.id DESC
	`, ownerID, ownerID, ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ChatPreview, 0)
	for rows.Next() {
		var p domain.ChatPreview
		if err := rows.Scan(&p.ChatID, &p.CareeName, &p.LastMessage, &p.LastMessageTime, &p.UnreadCount); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, chatID, viewerID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = ? AND sender_id <> ? AND status <> 'read'
	`, chatID, viewerID).Scan(&count)
	return count, err
}

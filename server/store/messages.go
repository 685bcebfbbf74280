package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"carecomms/server/domain"
	"carecomms/server/errs"
)

func errNoChat(chatID string) error {
	return fmt.Errorf("chat %s: %w", chatID, errs.ErrChatNotFound)
}

func errNoMessage(messageID string) error {
	return fmt.Errorf("message %s: %w", messageID, errs.ErrMessageNotFound)
}

// InsertMessage persists the message and bumps the parent chat's
// last_activity in one transaction. An absent id is assigned here.
func (s *Store) InsertMessage(ctx context.Context, chatID string, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = domain.NowMillis()
	}
	if msg.Status == "" {
		msg.Status = domain.MessageStatusSent
	}
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}
	msg.ChatID = chatID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE chats SET last_activity = ? WHERE id = ? AND last_activity < ?
	`, msg.Timestamp, chatID, msg.Timestamp)
	if err != nil {
		return msg, err
	}
	if rows, err := res.RowsAffected(); err != nil {
		return msg, err
	} else if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM chats WHERE id = ?)`, chatID).Scan(&exists); err != nil {
			return msg, err
		}
		if !exists {
			return msg, errNoChat(chatID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, attachment_id, type, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.AttachmentID, string(msg.Type), string(msg.Status), msg.Timestamp)
	if err != nil {
		return msg, err
	}
	if err := tx.Commit(); err != nil {
		return msg, err
	}
	s.notify(chatID)
	return msg, nil
}

// UpsertMessage is the sync-down path: remote state is mirrored locally
// without ever regressing a status the local side already advanced. Returns
// whether anything actually changed so callers can skip redundant emits.
func (s *Store) UpsertMessage(ctx context.Context, chatID string, msg domain.Message) (bool, error) {
	existing, err := s.getMessage(ctx, msg.ID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.InsertMessage(ctx, chatID, msg); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !existing.Status.CanTransitionTo(msg.Status) {
		return false, nil
	}
	return s.advanceStatus(ctx, chatID, msg.ID, msg.Status)
}

// ListMessages returns the transcript ascending. rowid breaks timestamp ties
// in insertion order, so back-to-back sends in the same millisecond never
// come back swapped.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, content, attachment_id, type, status, timestamp
		FROM messages WHERE chat_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var mtype, status string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.AttachmentID, &mtype, &status, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Type = domain.MessageType(mtype)
		m.Status = domain.MessageStatus(status)
		items = append(items, m)
	}
	return items, rows.Err()
}

// MarkAsRead advances one message to read. Backward transitions are ignored:
// status is monotonic.
func (s *Store) MarkAsRead(ctx context.Context, chatID, messageID string) error {
	_, err := s.advanceStatus(ctx, chatID, messageID, domain.MessageStatusRead)
	return err
}

// MarkAllAsRead marks every unread message in the chat that the viewer did
// not send. The viewer id is required so a reader never marks their own
// outgoing messages.
func (s *Store) MarkAllAsRead(ctx context.Context, chatID, viewerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE chat_id = ? AND sender_id <> ? AND status <> 'read'
	`, chatID, viewerID)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		s.notify(chatID)
	}
	return nil
}

func (s *Store) advanceStatus(ctx context.Context, chatID, messageID string, next domain.MessageStatus) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ?`, messageID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errNoMessage(messageID)
	}
	if err != nil {
		return false, err
	}
	if !domain.MessageStatus(current).CanTransitionTo(next) {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, string(next), messageID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.notify(chatID)
	return true, nil
}

func (s *Store) getMessage(ctx context.Context, id string) (domain.Message, error) {
	var m domain.Message
	var mtype, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, content, attachment_id, type, status, timestamp
		FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.AttachmentID, &mtype, &status, &m.Timestamp)
	if err != nil {
		return domain.Message{}, err
	}
	m.Type = domain.MessageType(mtype)
	m.Status = domain.MessageStatus(status)
	return m, nil
}

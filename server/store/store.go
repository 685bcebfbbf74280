package store

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"carecomms/server/stream"
)

// Change is published after every chat-affecting mutation so open chat list
// and message subscriptions recompute. Broadcast, not single-consumer: every
// subscriber sees every change.
type Change struct {
	ChatID string
}

type Store struct {
	db      *sql.DB
	changes *stream.Broadcaster[Change]
}

func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, changes: stream.NewBroadcaster[Change]()}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		carer_id TEXT NOT NULL,
		caree_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		UNIQUE (carer_id, caree_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		attachment_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, timestamp);

	CREATE TABLE IF NOT EXISTS invitations (
		token TEXT PRIMARY KEY,
		carer_id TEXT NOT NULL,
		carer_name TEXT NOT NULL,
		expiration_time INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expiration_time INTEGER,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) Close() error {
	s.changes.Close()
	return s.db.Close()
}

// Changes streams chat mutations to any number of subscribers.
func (s *Store) Changes(ctx context.Context) <-chan Change {
	return s.changes.Subscribe(ctx)
}

func (s *Store) notify(chatID string) {
	s.changes.Publish(Change{ChatID: chatID})
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"carecomms/server/domain"
)

// PutCacheEntry stores an arbitrary serialized value. A nil expiration means
// the entry never expires by time and is only evicted explicitly.
func (s *Store) PutCacheEntry(ctx context.Context, key, value string, expirationTime *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expiration_time, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			expiration_time = excluded.expiration_time,
			created_at = excluded.created_at
	`, key, value, expirationTime, domain.NowMillis())
	return err
}

// GetCacheEntry returns (entry, false, nil) when the key is absent or has
// expired; expired rows are removed on read.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	var entry domain.CacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, expiration_time, created_at FROM cache_entries WHERE key = ?
	`, key).Scan(&entry.Key, &entry.Value, &entry.ExpirationTime, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	if entry.ExpirationTime != nil && domain.NowMillis() >= *entry.ExpirationTime {
		_ = s.DeleteCacheEntry(ctx, key)
		return domain.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// CacheCreatedAt reports when a key was last written, for staleness checks.
func (s *Store) CacheCreatedAt(ctx context.Context, key string) (int64, bool, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM cache_entries WHERE key = ?
	`, key).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return createdAt, true, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"carecomms/server/domain"
	"carecomms/server/errs"
)

func (s *Store) InsertInvitation(ctx context.Context, inv domain.Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (token, carer_id, carer_name, expiration_time, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, inv.Token, inv.CarerID, inv.CarerName, inv.ExpirationTime, string(inv.Status), inv.CreatedAt)
	return err
}

func (s *Store) GetInvitation(ctx context.Context, token string) (domain.Invitation, error) {
	var inv domain.Invitation
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT token, carer_id, carer_name, expiration_time, status, created_at
		FROM invitations WHERE token = ?
	`, token).Scan(&inv.Token, &inv.CarerID, &inv.CarerName, &inv.ExpirationTime, &status, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invitation{}, errs.ErrInvitationMissing
	}
	if err != nil {
		return domain.Invitation{}, err
	}
	inv.Status = domain.InvitationStatus(status)
	return inv, nil
}

// TransitionInvitation moves a still-created token to a terminal status.
// Returns false when the token already left the created state, which makes
// concurrent accept/revoke races safe: exactly one transition wins.
func (s *Store) TransitionInvitation(ctx context.Context, token string, to domain.InvitationStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status = ? WHERE token = ? AND status = 'created'
	`, string(to), token)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteExpiredInvitations is housekeeping: unconsumed tokens past their
// expiry have no further use and are purged.
func (s *Store) DeleteExpiredInvitations(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM invitations WHERE status = 'created' AND expiration_time <= ?
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

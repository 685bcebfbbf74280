package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	commonlog "carecomms/server/common/log"
	"carecomms/server/domain"
	"carecomms/server/errs"
	"carecomms/server/offline"
	"carecomms/server/store"
)

const (
	linkScheme = "carecomms"
	linkHost   = "invite"

	tokenBytes = 16

	// Unconsumed invitations die after a week.
	validity = 7 * 24 * time.Hour
)

// RemoteAcceptor pushes an acceptance to the hub; the hub client satisfies it.
type RemoteAcceptor interface {
	AcceptInvitation(ctx context.Context, token, careeID string) error
}

// ChatCreator opens the carer/caree conversation once an invitation is
// consumed; the offline-first chat repository satisfies it.
type ChatCreator interface {
	CreateChat(ctx context.Context, carerID, careeID string) (string, error)
}

// Notifier publishes invitation lifecycle events, best-effort.
type Notifier interface {
	Publish(ctx context.Context, routingKey string, payload any)
}

// Repository manages invitation tokens: single-use links a carer hands to a
// caree, valid for a week, terminal once consumed or revoked.
type Repository struct {
	store  *store.Store
	coord  *offline.Coordinator
	remote RemoteAcceptor
	chats  ChatCreator
	notify Notifier
}

func NewRepository(s *store.Store, coord *offline.Coordinator, remote RemoteAcceptor, chats ChatCreator, notify Notifier) *Repository {
	return &Repository{store: s, coord: coord, remote: remote, chats: chats, notify: notify}
}

// GenerateLink mints a fresh single-use token for the carer and returns the
// deep link to hand out. Expired leftovers are purged on the way.
func (r *Repository) GenerateLink(ctx context.Context, carerID string) (string, error) {
	carer, err := r.store.GetUser(ctx, carerID)
	if err != nil {
		return "", err
	}

	if purged, err := r.store.DeleteExpiredInvitations(ctx, domain.NowMillis()); err == nil && purged > 0 {
		commonlog.Infof("event=invite action=purge_expired count=%d", purged)
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := domain.NowMillis()
	inv := domain.Invitation{
		Token:          token,
		CarerID:        carer.ID,
		CarerName:      carer.Name,
		ExpirationTime: now + validity.Milliseconds(),
		Status:         domain.InvitationStatusCreated,
		CreatedAt:      now,
	}
	if err := r.store.InsertInvitation(ctx, inv); err != nil {
		return "", err
	}
	commonlog.Infof("event=invite action=generate carer=%s", carer.ID)
	return FormatLink(token), nil
}

// Validate checks a token without consuming it. Used, revoked, and expired
// tokens each fail with their own error so the caller can explain which.
func (r *Repository) Validate(ctx context.Context, token string) (domain.Invitation, error) {
	inv, err := r.store.GetInvitation(ctx, token)
	if err != nil {
		return domain.Invitation{}, err
	}
	switch inv.Status {
	case domain.InvitationStatusConsumed:
		return domain.Invitation{}, errs.ErrInvitationUsed
	case domain.InvitationStatusRevoked:
		return domain.Invitation{}, errs.ErrInvitationRevoked
	}
	if inv.Expired(domain.NowMillis()) {
		return domain.Invitation{}, errs.ErrInvitationExpired
	}
	return inv, nil
}

// Accept consumes the token and opens the carer/caree chat. The conditional
// transition guarantees a single winner under concurrent accepts; the hub is
// informed offline-first, so acceptance works without connectivity.
func (r *Repository) Accept(ctx context.Context, token, careeID string) (string, error) {
	inv, err := r.Validate(ctx, token)
	if err != nil {
		return "", err
	}

	var chatID string
	local := func(ctx context.Context) error {
		won, err := r.store.TransitionInvitation(ctx, token, domain.InvitationStatusConsumed)
		if err != nil {
			return err
		}
		if !won {
			return errs.ErrInvitationUsed
		}
		chatID, err = r.chats.CreateChat(ctx, inv.CarerID, careeID)
		return err
	}
	network := func(ctx context.Context) error {
		return r.remote.AcceptInvitation(ctx, token, careeID)
	}
	payload := fmt.Sprintf(`{"token":%q,"caree_id":%q}`, token, careeID)

	if err := r.coord.PerformWrite(ctx, domain.PendingOpAcceptInvitation, payload, local, network); err != nil {
		return "", err
	}
	commonlog.Infof("event=invite action=accept carer=%s caree=%s chat=%s", inv.CarerID, careeID, chatID)
	if r.notify != nil {
		r.notify.Publish(ctx, "invitation.accepted", map[string]string{
			"token": token, "carer_id": inv.CarerID, "caree_id": careeID, "chat_id": chatID,
		})
	}
	return chatID, nil
}

// Revoke kills an outstanding token. Revocation is distinct from
// consumption: an already accepted invitation cannot be revoked.
func (r *Repository) Revoke(ctx context.Context, token string) error {
	won, err := r.store.TransitionInvitation(ctx, token, domain.InvitationStatusRevoked)
	if err != nil {
		return err
	}
	if won {
		commonlog.Infof("event=invite action=revoke token_prefix=%.8s", token)
		if r.notify != nil {
			r.notify.Publish(ctx, "invitation.revoked", map[string]string{"token": token})
		}
		return nil
	}

	inv, err := r.store.GetInvitation(ctx, token)
	if err != nil {
		return err
	}
	if inv.Status == domain.InvitationStatusConsumed {
		return errs.ErrInvitationUsed
	}
	return errs.ErrInvitationRevoked
}

// FormatLink renders the deep link the caree's device opens.
func FormatLink(token string) string {
	return fmt.Sprintf("%s://%s?token=%s", linkScheme, linkHost, url.QueryEscape(token))
}

// ParseLink extracts the token from a deep link; anything malformed maps to
// a validation error.
func ParseLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse invite link: %w", errs.ErrValidation)
	}
	if u.Scheme != linkScheme || u.Host != linkHost {
		return "", fmt.Errorf("unexpected invite link %q: %w", link, errs.ErrValidation)
	}
	token := u.Query().Get("token")
	if token == "" {
		return "", fmt.Errorf("invite link missing token: %w", errs.ErrValidation)
	}
	return token, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

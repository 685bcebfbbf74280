package invite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"carecomms/server/domain"
	"carecomms/server/errs"
	"carecomms/server/offline"
	"carecomms/server/store"
)

type fakeAcceptor struct {
	fail     bool
	accepted int
}

func (f *fakeAcceptor) AcceptInvitation(ctx context.Context, token, careeID string) error {
	if f.fail {
		return &errs.StatusError{Code: 503}
	}
	f.accepted++
	return nil
}

type localChats struct {
	store *store.Store
}

func (c localChats) CreateChat(ctx context.Context, carerID, careeID string) (string, error) {
	return c.store.CreateChat(ctx, carerID, careeID)
}

func newRepo(t *testing.T, online bool) (*Repository, *store.Store, *fakeAcceptor, *offline.Coordinator, string, string) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	carer, _ := s.CreateUser(ctx, domain.User{Email: "c@example.com", Name: "Cora", Role: domain.UserRoleCarer}, "secret12")
	caree, _ := s.CreateUser(ctx, domain.User{Email: "k@example.com", Name: "Ken", Role: domain.UserRoleCaree}, "secret12")

	acceptor := &fakeAcceptor{}
	coord := offline.NewCoordinator(func() bool { return online }, s)
	repo := NewRepository(s, coord, acceptor, localChats{store: s}, nil)
	return repo, s, acceptor, coord, carer, caree
}

func TestGenerateAndParseLinkRoundTrip(t *testing.T) {
	repo, _, _, _, carer, _ := newRepo(t, true)
	ctx := context.Background()

	link, err := repo.GenerateLink(ctx, carer)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(link, "carecomms://invite?token=") {
		t.Fatalf("link = %q", link)
	}

	token, err := ParseLink(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	inv, err := repo.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate fresh token: %v", err)
	}
	if inv.CarerID != carer || inv.CarerName != "Cora" {
		t.Errorf("invitation = %+v", inv)
	}
}

func TestGenerateLinkUnknownCarer(t *testing.T) {
	repo, _, _, _, _, _ := newRepo(t, true)
	if _, err := repo.GenerateLink(context.Background(), "ghost"); !errors.Is(err, errs.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestAcceptIsSingleUse(t *testing.T) {
	repo, s, _, _, carer, caree := newRepo(t, true)
	ctx := context.Background()

	link, _ := repo.GenerateLink(ctx, carer)
	token, _ := ParseLink(link)

	chatID, err := repo.Accept(ctx, token, caree)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if chatID == "" {
		t.Fatal("expected chat id from accept")
	}
	if got, _ := s.GetChatID(ctx, carer, caree); got != chatID {
		t.Errorf("chat not created: %q vs %q", got, chatID)
	}

	if _, err := repo.Accept(ctx, token, caree); !errors.Is(err, errs.ErrInvitationUsed) {
		t.Errorf("second accept err = %v, want ErrInvitationUsed", err)
	}
}

func TestExpiredInvitationFailsValidation(t *testing.T) {
	repo, s, _, _, carer, _ := newRepo(t, true)
	ctx := context.Background()

	inv := domain.Invitation{
		Token:          "stale-token",
		CarerID:        carer,
		CarerName:      "Cora",
		ExpirationTime: domain.NowMillis() - 1000,
		Status:         domain.InvitationStatusCreated,
		CreatedAt:      domain.NowMillis() - 2000,
	}
	if err := s.InsertInvitation(ctx, inv); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.Validate(ctx, "stale-token"); !errors.Is(err, errs.ErrInvitationExpired) {
		t.Errorf("err = %v, want ErrInvitationExpired", err)
	}
}

func TestRevokedIsDistinctFromConsumed(t *testing.T) {
	repo, _, _, _, carer, caree := newRepo(t, true)
	ctx := context.Background()

	link, _ := repo.GenerateLink(ctx, carer)
	token, _ := ParseLink(link)

	if err := repo.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := repo.Validate(ctx, token); !errors.Is(err, errs.ErrInvitationRevoked) {
		t.Errorf("validate err = %v, want ErrInvitationRevoked", err)
	}
	if _, err := repo.Accept(ctx, token, caree); !errors.Is(err, errs.ErrInvitationRevoked) {
		t.Errorf("accept err = %v, want ErrInvitationRevoked", err)
	}

	// Revoking a consumed token reports consumption, not revocation.
	link2, _ := repo.GenerateLink(ctx, carer)
	token2, _ := ParseLink(link2)
	if _, err := repo.Accept(ctx, token2, caree); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := repo.Revoke(ctx, token2); !errors.Is(err, errs.ErrInvitationUsed) {
		t.Errorf("revoke consumed err = %v, want ErrInvitationUsed", err)
	}
}

func TestAcceptOfflineQueuesRemoteNotice(t *testing.T) {
	repo, s, acceptor, coord, carer, caree := newRepo(t, false)
	ctx := context.Background()

	link, _ := repo.GenerateLink(ctx, carer)
	token, _ := ParseLink(link)

	chatID, err := repo.Accept(ctx, token, caree)
	if err != nil {
		t.Fatalf("offline accept: %v", err)
	}
	if chatID == "" {
		t.Fatal("expected local chat id")
	}
	if acceptor.accepted != 0 {
		t.Error("remote accept ran while offline")
	}
	if got := len(coord.Pending()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	coord.SyncPending(ctx)
	if acceptor.accepted != 1 {
		t.Errorf("remote accepts after sync = %d, want 1", acceptor.accepted)
	}

	inv, _ := s.GetInvitation(ctx, token)
	if inv.Status != domain.InvitationStatusConsumed {
		t.Errorf("status = %s, want consumed", inv.Status)
	}
}

func TestParseLinkRejectsForeignSchemes(t *testing.T) {
	for _, link := range []string{
		"https://invite?token=abc",
		"carecomms://other?token=abc",
		"carecomms://invite",
		"::::",
	} {
		if _, err := ParseLink(link); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("ParseLink(%q) err = %v, want ErrValidation", link, err)
		}
	}
}

package store

import (
	"context"
	"testing"

	"carecomms/server/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, name string, role domain.UserRole) string {
	t.Helper()
	id, err := s.CreateUser(context.Background(), domain.User{
		Email: name + "@example.com",
		Name:  name,
		Role:  role,
	}, "secret-pass")
	if err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return id
}

func TestCreateAndAuthenticateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedUser(t, s, "margaret", domain.UserRoleCarer)

	user, err := s.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != domain.UserRoleCarer {
		t.Errorf("role = %s, want carer", user.Role)
	}

	if _, err := s.Authenticate(ctx, "margaret@example.com", "secret-pass"); err != nil {
		t.Errorf("authenticate with correct password: %v", err)
	}
	if _, err := s.Authenticate(ctx, "margaret@example.com", "wrong"); err == nil {
		t.Error("expected authentication failure with wrong password")
	}
}

func TestCacheEntryExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := domain.NowMillis() - 1000
	if err := s.PutCacheEntry(ctx, "previews:carer-1", `[]`, &past); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := s.GetCacheEntry(ctx, "previews:carer-1"); ok {
		t.Error("expired entry should not be returned")
	}

	if err := s.PutCacheEntry(ctx, "pinned", "value", nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, ok, err := s.GetCacheEntry(ctx, "pinned")
	if err != nil || !ok {
		t.Fatalf("nil-expiry entry should persist, ok=%v err=%v", ok, err)
	}
	if entry.Value != "value" {
		t.Errorf("value = %q", entry.Value)
	}
}

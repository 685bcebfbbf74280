package store

import (
	"context"
	"testing"

	"carecomms/server/domain"
)

func TestCreateChatIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	carer := seedUser(t, s, "carer", domain.UserRoleCarer)
	caree := seedUser(t, s, "caree", domain.UserRoleCaree)

	first, err := s.CreateChat(ctx, carer, caree)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	second, err := s.CreateChat(ctx, carer, caree)
	if err != nil {
		t.Fatalf("create chat again: %v", err)
	}
	if first != second {
		t.Errorf("expected same chat id, got %s and %s", first, second)
	}

	id, err := s.GetChatID(ctx, carer, caree)
	if err != nil || id != first {
		t.Errorf("lookup = (%s, %v), want %s", id, err, first)
	}
	if id, _ := s.GetChatID(ctx, caree, carer); id != "" {
		t.Errorf("reversed pair should not resolve, got %s", id)
	}
}

func TestListPreviewsUnreadExcludesViewer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	carer := seedUser(t, s, "ada", domain.UserRoleCarer)
	caree := seedUser(t, s, "eleanor", domain.UserRoleCaree)
	chatID, _ := s.CreateChat(ctx, carer, caree)

	if _, err := s.InsertMessage(ctx, chatID, domain.Message{SenderID: carer, Content: "good morning"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertMessage(ctx, chatID, domain.Message{SenderID: caree, Content: "hello"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	previews, err := s.ListPreviews(ctx, carer)
	if err != nil {
		t.Fatalf("list previews: %v", err)
	}
	if len(previews) != 1 {
		t.Fatalf("previews = %d, want 1", len(previews))
	}
	p := previews[0]
	if p.CareeName != "eleanor" {
		t.Errorf("caree name = %q", p.CareeName)
	}
	if p.LastMessage != "hello" {
		t.Errorf("last message = %q", p.LastMessage)
	}
	if p.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (own messages excluded)", p.UnreadCount)
	}

	// From the caree's side the carer's message is the unread one.
	previews, _ = s.ListPreviews(ctx, caree)
	if previews[0].UnreadCount != 1 || previews[0].CareeName != "ada" {
		t.Errorf("caree view = %+v", previews[0])
	}
}

func TestPreviewOrderingFollowsActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	carer := seedUser(t, s, "carer", domain.UserRoleCarer)
	careeA := seedUser(t, s, "alice", domain.UserRoleCaree)
	careeB := seedUser(t, s, "bettie", domain.UserRoleCaree)

	chatA, _ := s.CreateChat(ctx, carer, careeA)
	chatB, _ := s.CreateChat(ctx, carer, careeB)

	base := domain.NowMillis()
	s.InsertMessage(ctx, chatA, domain.Message{SenderID: careeA, Content: "first", Timestamp: base + 1})
	s.InsertMessage(ctx, chatB, domain.Message{SenderID: careeB, Content: "second", Timestamp: base + 2})

	previews, err := s.ListPreviews(ctx, carer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(previews) != 2 || previews[0].ChatID != chatB || previews[1].ChatID != chatA {
		t.Errorf("ordering wrong: %+v", previews)
	}
}

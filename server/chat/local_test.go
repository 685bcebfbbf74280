package chat

import (
	"context"
	"testing"
	"time"

	"carecomms/server/domain"
	"carecomms/server/store"
)

func newLocalFixture(t *testing.T) (*LocalRepository, *store.Store, string, string, string) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	carer, _ := s.CreateUser(ctx, domain.User{Email: "c@example.com", Name: "Cora", Role: domain.UserRoleCarer}, "secret12")
	caree, _ := s.CreateUser(ctx, domain.User{Email: "k@example.com", Name: "Ken", Role: domain.UserRoleCaree}, "secret12")
	chatID, err := s.CreateChat(ctx, carer, caree)
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return NewLocalRepository(s), s, chatID, carer, caree
}

func TestChatListEmitsCurrentStateThenUpdates(t *testing.T) {
	repo, s, chatID, carer, caree := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := repo.ChatList(ctx, carer)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first := <-stream
	if len(first) != 1 || first[0].ChatID != chatID {
		t.Fatalf("initial projection = %+v", first)
	}
	if first[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", first[0].UnreadCount)
	}

	if _, err := s.InsertMessage(ctx, chatID, domain.Message{SenderID: caree, Content: "hello"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case next := <-stream:
		if next[0].LastMessage != "hello" || next[0].UnreadCount != 1 {
			t.Errorf("updated projection = %+v", next[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no emission after mutation")
	}
}

func TestSearchChatsFiltersByNameAndLastMessage(t *testing.T) {
	repo, s, chatID, carer, caree := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.InsertMessage(ctx, chatID, domain.Message{SenderID: caree, Content: "groceries done"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	byName, err := repo.SearchChats(ctx, carer, "ken")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := <-byName; len(got) != 1 {
		t.Errorf("name match = %d results, want 1", len(got))
	}

	byMessage, _ := repo.SearchChats(ctx, carer, "GROCERIES")
	if got := <-byMessage; len(got) != 1 {
		t.Errorf("message match = %d results, want 1", len(got))
	}

	miss, _ := repo.SearchChats(ctx, carer, "nomatch")
	if got := <-miss; len(got) != 0 {
		t.Errorf("miss = %d results, want 0", len(got))
	}
}

func TestMessagesStreamSuppressesUnrelatedChanges(t *testing.T) {
	repo, s, chatID, carer, caree := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCaree, _ := s.CreateUser(ctx, domain.User{Email: "x@example.com", Name: "Xena", Role: domain.UserRoleCaree}, "secret12")
	otherChat, _ := s.CreateChat(ctx, carer, otherCaree)

	stream, err := repo.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-stream // initial empty projection

	// Traffic in another chat must not wake this subscription.
	s.InsertMessage(ctx, otherChat, domain.Message{SenderID: carer, Content: "elsewhere"})
	select {
	case msgs := <-stream:
		t.Fatalf("unexpected emission %+v for unrelated chat", msgs)
	case <-time.After(100 * time.Millisecond):
	}

	s.InsertMessage(ctx, chatID, domain.Message{SenderID: caree, Content: "here"})
	select {
	case msgs := <-stream:
		if len(msgs) != 1 || msgs[0].Content != "here" {
			t.Errorf("projection = %+v", msgs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no emission for own chat")
	}
}

func TestLocalTypingStatusIsConstantNotTyping(t *testing.T) {
	repo, _, chatID, _, _ := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := repo.TypingStatus(ctx, chatID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	status := <-stream
	if status.IsTyping {
		t.Error("local typing stream must report not typing")
	}
}

package chat

import (
	"context"

	commonlog "carecomms/server/common/log"
	"carecomms/server/domain"
	"carecomms/server/remote"
	"carecomms/server/store"
)

// LocalRepository serves chat reads and writes entirely from the sqlite
// mirror. Read streams emit the current projection immediately, then
// recompute on every relevant store change; unchanged projections are not
// re-emitted.
type LocalRepository struct {
	store *store.Store
}

func NewLocalRepository(s *store.Store) *LocalRepository {
	return &LocalRepository{store: s}
}

func (r *LocalRepository) ChatList(ctx context.Context, ownerID string) (<-chan []domain.ChatPreview, error) {
	return watchProjection(ctx, r.store, "", func(ctx context.Context) ([]domain.ChatPreview, error) {
		return r.store.ListPreviews(ctx, ownerID)
	})
}

func (r *LocalRepository) Messages(ctx context.Context, chatID string) (<-chan []domain.Message, error) {
	return watchProjection(ctx, r.store, chatID, func(ctx context.Context) ([]domain.Message, error) {
		return r.store.ListMessages(ctx, chatID)
	})
}

// SearchChats filters the chat list projection on caree name and last
// message text.
func (r *LocalRepository) SearchChats(ctx context.Context, ownerID, query string) (<-chan []domain.ChatPreview, error) {
	return watchProjection(ctx, r.store, "", func(ctx context.Context) ([]domain.ChatPreview, error) {
		items, err := r.store.ListPreviews(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return remote.FilterPreviews(items, query), nil
	})
}

// TypingStatus has no local representation: typing is ephemeral and only
// exists on a live remote subscription. The local stream holds a constant
// not-typing state open until ctx ends.
func (r *LocalRepository) TypingStatus(ctx context.Context, chatID string) (<-chan domain.TypingStatus, error) {
	out := make(chan domain.TypingStatus, 1)
	out <- domain.TypingStatus{IsTyping: false, Timestamp: domain.NowMillis()}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (r *LocalRepository) SendMessage(ctx context.Context, chatID string, msg domain.Message) (domain.Message, error) {
	return r.store.InsertMessage(ctx, chatID, msg)
}

func (r *LocalRepository) MarkAsRead(ctx context.Context, chatID, messageID string) error {
	return r.store.MarkAsRead(ctx, chatID, messageID)
}

func (r *LocalRepository) MarkAllAsRead(ctx context.Context, chatID, viewerID string) error {
	return r.store.MarkAllAsRead(ctx, chatID, viewerID)
}

func (r *LocalRepository) CreateChat(ctx context.Context, carerID, careeID string) (string, error) {
	return r.store.CreateChat(ctx, carerID, careeID)
}

func (r *LocalRepository) ChatID(ctx context.Context, carerID, careeID string) (string, error) {
	return r.store.GetChatID(ctx, carerID, careeID)
}

// watchProjection recomputes a query on every store change and forwards
// distinct results. chatID narrows the trigger to one chat; empty watches
// everything, which the chat list needs since any chat affects it.
func watchProjection[T any](ctx context.Context, s *store.Store, chatID string, query func(ctx context.Context) ([]T, error)) (<-chan []T, error) {
	changes := s.Changes(ctx)
	current, err := query(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan []T, 1)
	out <- current
	go func() {
		defer close(out)
		last := current
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				if chatID != "" && change.ChatID != chatID {
					continue
				}
				next, err := query(ctx)
				if err != nil {
					if ctx.Err() == nil {
						commonlog.Errorf("event=local_stream action=recompute status=failed error=%v", err)
					}
					continue
				}
				if projectionsEqual(last, next) {
					continue
				}
				last = next
				select {
				case out <- next:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

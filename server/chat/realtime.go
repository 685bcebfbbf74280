package chat

import (
	"context"
	"encoding/json"
	"time"

	commonlog "carecomms/server/common/log"
	"carecomms/server/domain"
	"carecomms/server/offline"
	"carecomms/server/remote"
	"carecomms/server/store"
)

const defaultRemoteTimeout = 5 * time.Second

// NetworkStatus is the connectivity view the orchestrator needs; the network
// monitor satisfies it.
type NetworkStatus interface {
	IsOnline() bool
	Online(ctx context.Context) <-chan bool
}

// Notifier publishes domain events to the message broker, best-effort.
type Notifier interface {
	Publish(ctx context.Context, routingKey string, payload any)
}

// Repository is the offline-first orchestrator. Reads combine the sqlite
// mirror with the hub: local is always the seed, the hub takes over while
// online and its state is written through into the mirror. Writes land
// locally first and reach the hub directly or through the pending queue.
type Repository struct {
	local   *LocalRepository
	remote  remote.ChatService
	store   *store.Store
	coord   *offline.Coordinator
	network NetworkStatus
	notify  Notifier

	remoteTimeout time.Duration
}

func NewRepository(local *LocalRepository, remoteSvc remote.ChatService, s *store.Store, coord *offline.Coordinator, network NetworkStatus, notify Notifier, remoteTimeout time.Duration) *Repository {
	if remoteTimeout <= 0 {
		remoteTimeout = defaultRemoteTimeout
	}
	return &Repository{
		local:         local,
		remote:        remoteSvc,
		store:         s,
		coord:         coord,
		network:       network,
		notify:        notify,
		remoteTimeout: remoteTimeout,
	}
}

// Messages streams the chat transcript. The hub's snapshots are not emitted
// directly: they are upserted into the mirror, which recomputes the local
// stream, so offline sends and remote messages come out of one ordered
// projection with no duplicates.
func (r *Repository) Messages(ctx context.Context, chatID string) (<-chan []domain.Message, error) {
	localStream, err := r.local.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	out := make(chan []domain.Message, 1)
	go func() {
		defer close(out)
		online := r.network.Online(ctx)
		remoteCancel, remoteStream := r.openMessages(ctx, chatID, r.network.IsOnline())
		defer func() {
			if remoteCancel != nil {
				remoteCancel()
			}
		}()

		var last []domain.Message
		hasLast := false
		for {
			select {
			case <-ctx.Done():
				return
			case isOnline, ok := <-online:
				if !ok {
					return
				}
				if remoteCancel != nil {
					remoteCancel()
					remoteCancel = nil
					remoteStream = nil
				}
				remoteCancel, remoteStream = r.openMessages(ctx, chatID, isOnline)
			case snapshot, ok := <-remoteStream:
				if !ok {
					remoteStream = nil
					continue
				}
				r.syncDownMessages(ctx, chatID, snapshot)
			case msgs, ok := <-localStream:
				if !ok {
					return
				}
				if hasLast && projectionsEqual(last, msgs) {
					continue
				}
				last = msgs
				hasLast = true
				select {
				case out <- msgs:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Repository) openMessages(ctx context.Context, chatID string, online bool) (context.CancelFunc, <-chan []domain.Message) {
	if !online || r.remote == nil {
		return nil, nil
	}
	remoteCtx, cancel := context.WithCancel(ctx)
	stream, err := r.remote.Messages(remoteCtx, chatID)
	if err != nil {
		commonlog.Warnf("event=realtime_read action=remote_subscribe status=failed chat=%s error=%v", chatID, err)
		cancel()
		return nil, nil
	}
	return cancel, stream
}

func (r *Repository) syncDownMessages(ctx context.Context, chatID string, snapshot []domain.Message) {
	for _, msg := range snapshot {
		if _, err := r.store.UpsertMessage(ctx, chatID, msg); err != nil {
			if ctx.Err() == nil {
				commonlog.Errorf("event=realtime_read action=sync_down status=failed chat=%s message=%s error=%v", chatID, msg.ID, err)
			}
			return
		}
	}
}

// ChatList streams inbox previews: the hub's projection while online, the
// mirror's otherwise.
func (r *Repository) ChatList(ctx context.Context, ownerID string) (<-chan []domain.ChatPreview, error) {
	return r.combinePreviews(ctx, ownerID, "")
}

// SearchChats is ChatList narrowed by a case-insensitive substring query on
// caree name and last message.
func (r *Repository) SearchChats(ctx context.Context, ownerID, query string) (<-chan []domain.ChatPreview, error) {
	return r.combinePreviews(ctx, ownerID, query)
}

func (r *Repository) combinePreviews(ctx context.Context, ownerID, query string) (<-chan []domain.ChatPreview, error) {
	localStream, err := r.local.SearchChats(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}

	out := make(chan []domain.ChatPreview, 1)
	go func() {
		defer close(out)
		online := r.network.Online(ctx)
		isOnline := r.network.IsOnline()
		remoteCancel, remoteStream := r.openPreviews(ctx, ownerID, query, isOnline)
		defer func() {
			if remoteCancel != nil {
				remoteCancel()
			}
		}()

		var last []domain.ChatPreview
		hasLast := false
		emit := func(items []domain.ChatPreview) bool {
			if hasLast && projectionsEqual(last, items) {
				return true
			}
			last = items
			hasLast = true
			select {
			case out <- items:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-online:
				if !ok {
					return
				}
				isOnline = v
				if remoteCancel != nil {
					remoteCancel()
					remoteCancel = nil
					remoteStream = nil
				}
				remoteCancel, remoteStream = r.openPreviews(ctx, ownerID, query, isOnline)
			case items, ok := <-remoteStream:
				if !ok {
					remoteStream = nil
					continue
				}
				if !emit(items) {
					return
				}
			case items, ok := <-localStream:
				if !ok {
					return
				}
				// The hub projection wins while its stream is live.
				if isOnline && remoteStream != nil {
					continue
				}
				if !emit(items) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Repository) openPreviews(ctx context.Context, ownerID, query string, online bool) (context.CancelFunc, <-chan []domain.ChatPreview) {
	if !online || r.remote == nil {
		return nil, nil
	}
	remoteCtx, cancel := context.WithCancel(ctx)
	var stream <-chan []domain.ChatPreview
	var err error
	if query == "" {
		stream, err = r.remote.ChatList(remoteCtx, ownerID)
	} else {
		stream, err = r.remote.SearchChats(remoteCtx, ownerID, query)
	}
	if err != nil {
		commonlog.Warnf("event=realtime_read action=remote_subscribe status=failed owner=%s error=%v", ownerID, err)
		cancel()
		return nil, nil
	}
	return cancel, stream
}

// TypingStatus is live only while online; offline subscribers hold a
// constant not-typing state.
func (r *Repository) TypingStatus(ctx context.Context, chatID string) (<-chan domain.TypingStatus, error) {
	if r.network.IsOnline() && r.remote != nil {
		if stream, err := r.remote.TypingStatus(ctx, chatID); err == nil {
			return stream, nil
		}
	}
	return r.local.TypingStatus(ctx, chatID)
}

// SendMessage persists locally first; the assigned id and timestamp travel
// to the hub so both sides agree on identity. Offline or failed remote sends
// queue for replay and never fail the caller.
func (r *Repository) SendMessage(ctx context.Context, chatID string, msg domain.Message) (domain.Message, error) {
	var saved domain.Message
	local := func(ctx context.Context) error {
		m, err := r.local.SendMessage(ctx, chatID, msg)
		saved = m
		return err
	}
	network := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		defer cancel()
		return r.remote.SendMessage(ctx, chatID, saved)
	}
	payload := opPayload{ChatID: chatID, MessageID: msg.ID, SenderID: msg.SenderID}

	if err := r.coord.PerformWrite(ctx, domain.PendingOpSendMessage, payload.encode(), local, network); err != nil {
		return domain.Message{}, err
	}
	r.publish(ctx, "message.sent", saved)
	return saved, nil
}

func (r *Repository) MarkAsRead(ctx context.Context, chatID, messageID string) error {
	local := func(ctx context.Context) error {
		return r.local.MarkAsRead(ctx, chatID, messageID)
	}
	network := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		defer cancel()
		return r.remote.MarkAsRead(ctx, chatID, messageID)
	}
	payload := opPayload{ChatID: chatID, MessageID: messageID}
	return r.coord.PerformWrite(ctx, domain.PendingOpMarkRead, payload.encode(), local, network)
}

func (r *Repository) MarkAllAsRead(ctx context.Context, chatID, viewerID string) error {
	local := func(ctx context.Context) error {
		return r.local.MarkAllAsRead(ctx, chatID, viewerID)
	}
	network := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		defer cancel()
		return r.remote.MarkAllAsRead(ctx, chatID, viewerID)
	}
	payload := opPayload{ChatID: chatID, ViewerID: viewerID}
	return r.coord.PerformWrite(ctx, domain.PendingOpMarkRead, payload.encode(), local, network)
}

// SetTypingStatus is fire-and-forget and online-only; typing indicators have
// no meaning to queue.
func (r *Repository) SetTypingStatus(ctx context.Context, chatID string, status domain.TypingStatus) error {
	if !r.network.IsOnline() || r.remote == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	if err := r.remote.SetTypingStatus(ctx, chatID, status); err != nil {
		commonlog.Warnf("event=realtime_write action=typing status=failed chat=%s error=%v", chatID, err)
	}
	return nil
}

// CreateChat prefers the hub's id so both sides key the conversation the
// same way; the mirror records it either way. Offline creation falls back to
// a locally assigned id.
func (r *Repository) CreateChat(ctx context.Context, carerID, careeID string) (string, error) {
	if r.network.IsOnline() && r.remote != nil {
		remoteCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		remoteID, err := r.remote.CreateChat(remoteCtx, carerID, careeID)
		cancel()
		if err == nil && remoteID != "" {
			id, err := r.store.MirrorChat(ctx, remoteID, carerID, careeID)
			if err != nil {
				return "", err
			}
			r.publish(ctx, "chat.created", domain.Chat{ID: id, CarerID: carerID, CareeID: careeID})
			return id, nil
		}
		commonlog.Warnf("event=realtime_write action=create_chat status=remote_failed carer=%s error=%v", carerID, err)
	}
	id, err := r.local.CreateChat(ctx, carerID, careeID)
	if err != nil {
		return "", err
	}
	r.publish(ctx, "chat.created", domain.Chat{ID: id, CarerID: carerID, CareeID: careeID})
	return id, nil
}

// ChatID resolves the pair to a chat id, asking the hub first while online.
func (r *Repository) ChatID(ctx context.Context, carerID, careeID string) (string, error) {
	if r.network.IsOnline() && r.remote != nil {
		remoteCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		id, err := r.remote.ChatID(remoteCtx, carerID, careeID)
		cancel()
		if err == nil && id != "" {
			return r.store.MirrorChat(ctx, id, carerID, careeID)
		}
	}
	return r.local.ChatID(ctx, carerID, careeID)
}

// UpdateUser follows the same write-local-first discipline as messages.
func (r *Repository) UpdateUser(ctx context.Context, user domain.User) error {
	local := func(ctx context.Context) error {
		return r.store.UpdateUser(ctx, user.ID, user.Name, user.Email)
	}
	network := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		defer cancel()
		return r.remote.UpdateUser(ctx, user)
	}
	payload := opPayload{UserID: user.ID}
	return r.coord.PerformWrite(ctx, domain.PendingOpUpdateUser, payload.encode(), local, network)
}

func (r *Repository) publish(ctx context.Context, key string, payload any) {
	if r.notify == nil {
		return
	}
	r.notify.Publish(ctx, key, payload)
}

// opPayload is the queued-op descriptor persisted alongside a pending write,
// for operators inspecting the queue.
type opPayload struct {
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	ViewerID  string `json:"viewer_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func (p opPayload) encode() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

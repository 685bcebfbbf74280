package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "carecomms/server/common/log"
	"carecomms/server/domain"
	"carecomms/server/errs"
)

const (
	hubBasePath        = "/hub/v1"
	defaultHTTPTimeout = 5 * time.Second
)

// HubClient talks to the care hub: CRUD over HTTP, live streams over redis
// pub/sub. Every HTTP call carries the client timeout so an offline
// transition fails fast instead of hanging a write.
type HubClient struct {
	baseURL string
	http    *http.Client
	redis   *redis.Client
}

func NewHubClient(baseURL string, redisClient *redis.Client, timeout time.Duration) *HubClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HubClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		redis:   redisClient,
	}
}

func messagesChannel(chatID string) string {
	return fmt.Sprintf("care:chat:%s:messages", chatID)
}

func typingChannel(chatID string) string {
	return fmt.Sprintf("care:chat:%s:typing", chatID)
}

func previewsChannel(ownerID string) string {
	return fmt.Sprintf("care:owner:%s:previews", ownerID)
}

func (c *HubClient) ChatList(ctx context.Context, ownerID string) (<-chan []domain.ChatPreview, error) {
	var snapshot []domain.ChatPreview
	if err := c.get(ctx, "/owners/"+url.PathEscape(ownerID)+"/chats", &snapshot); err != nil {
		return nil, err
	}
	return consumeSnapshots(ctx, c.redis, previewsChannel(ownerID), snapshot), nil
}

func (c *HubClient) Messages(ctx context.Context, chatID string) (<-chan []domain.Message, error) {
	var snapshot []domain.Message
	if err := c.get(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", &snapshot); err != nil {
		return nil, err
	}
	return consumeSnapshots(ctx, c.redis, messagesChannel(chatID), snapshot), nil
}

// SearchChats filters the chat list stream hub-side state client-side; the
// hub does not index previews for substring search.
func (c *HubClient) SearchChats(ctx context.Context, ownerID, query string) (<-chan []domain.ChatPreview, error) {
	source, err := c.ChatList(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(chan []domain.ChatPreview, 1)
	go func() {
		defer close(out)
		for items := range source {
			filtered := FilterPreviews(items, query)
			select {
			case out <- filtered:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *HubClient) TypingStatus(ctx context.Context, chatID string) (<-chan domain.TypingStatus, error) {
	pubsub := c.redis.Subscribe(ctx, typingChannel(chatID))
	out := make(chan domain.TypingStatus, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			var status domain.TypingStatus
			if err := json.Unmarshal([]byte(msg.Payload), &status); err != nil {
				continue
			}
			select {
			case out <- status:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *HubClient) SendMessage(ctx context.Context, chatID string, msg domain.Message) error {
	return c.post(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", msg, nil)
}

func (c *HubClient) MarkAsRead(ctx context.Context, chatID, messageID string) error {
	payload := map[string]string{"message_id": messageID}
	return c.post(ctx, "/chats/"+url.PathEscape(chatID)+"/read", payload, nil)
}

func (c *HubClient) MarkAllAsRead(ctx context.Context, chatID, viewerID string) error {
	payload := map[string]string{"viewer_id": viewerID}
	return c.post(ctx, "/chats/"+url.PathEscape(chatID)+"/read-all", payload, nil)
}

func (c *HubClient) SetTypingStatus(ctx context.Context, chatID string, status domain.TypingStatus) error {
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, typingChannel(chatID), b).Err()
}

func (c *HubClient) CreateChat(ctx context.Context, carerID, careeID string) (string, error) {
	payload := map[string]string{"carer_id": carerID, "caree_id": careeID}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/chats", payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HubClient) ChatID(ctx context.Context, carerID, careeID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/chats/lookup?carer_id=%s&caree_id=%s", url.QueryEscape(carerID), url.QueryEscape(careeID))
	if err := c.get(ctx, path, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HubClient) UpdateUser(ctx context.Context, user domain.User) error {
	return c.post(ctx, "/users/"+url.PathEscape(user.ID), user, nil)
}

func (c *HubClient) AcceptInvitation(ctx context.Context, token, careeID string) error {
	payload := map[string]string{"caree_id": careeID}
	return c.post(ctx, "/invitations/"+url.PathEscape(token)+"/accept", payload, nil)
}

// consumeSnapshots seeds the stream with the HTTP snapshot, then relays every
// pub/sub snapshot until ctx ends.
func consumeSnapshots[T any](ctx context.Context, redisClient *redis.Client, channel string, snapshot []T) <-chan []T {
	out := make(chan []T, 1)
	out <- snapshot
	pubsub := redisClient.Subscribe(ctx, channel)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			var items []T
			if err := json.Unmarshal([]byte(msg.Payload), &items); err != nil {
				commonlog.Warnf("event=hub_stream action=decode status=failed channel=%s error=%v", channel, err)
				continue
			}
			select {
			case out <- items:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// FilterPreviews keeps previews whose caree name or last message contains the
// query, case-insensitively.
func FilterPreviews(items []domain.ChatPreview, query string) []domain.ChatPreview {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}
	filtered := make([]domain.ChatPreview, 0, len(items))
	for _, p := range items {
		if strings.Contains(strings.ToLower(p.CareeName), q) || strings.Contains(strings.ToLower(p.LastMessage), q) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func (c *HubClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+hubBasePath+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HubClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+hubBasePath+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HubClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &errs.StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonlog "carecomms/server/common/log"
	"carecomms/server/common/transport/httpresp"
	"carecomms/server/domain"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type wsEnvelope struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	IsTyping bool            `json:"is_typing,omitempty"`
}

func wsAccessToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		return "", false
	}
	return token, true
}

func (h *Handler) wsActor(c *gin.Context) (string, bool) {
	token, ok := wsAccessToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
		return "", false
	}
	userID, _, err := h.auth.ParseAuthContext(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
		return "", false
	}
	return userID, true
}

// handleChatListWS pushes the inbox projection: one JSON array per change,
// starting with the current state.
func (h *Handler) handleChatListWS(c *gin.Context) {
	userID, ok := h.wsActor(c)
	if !ok {
		return
	}
	query := strings.TrimSpace(c.Query("q"))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var (
		stream <-chan []domain.ChatPreview
		err    error
	)
	if query == "" {
		stream, err = h.repo.ChatList(ctx, userID)
	} else {
		stream, err = h.repo.SearchChats(ctx, userID, query)
	}
	if err != nil {
		h.fail(c, err, "chat")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	go discardReads(conn, cancel)
	writeStream(ctx, conn, "chat_list", stream)
}

// handleMessagesWS pushes the transcript for one chat and accepts message
// and typing envelopes back over the same socket.
func (h *Handler) handleMessagesWS(c *gin.Context) {
	userID, ok := h.wsActor(c)
	if !ok {
		return
	}
	chatID := c.Param("id")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	messages, err := h.repo.Messages(ctx, chatID)
	if err != nil {
		h.fail(c, err, "chat")
		return
	}
	typing, err := h.repo.TypingStatus(ctx, chatID)
	if err != nil {
		h.fail(c, err, "chat")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	go h.readMessagesWS(ctx, cancel, conn, chatID, userID)

	for {
		select {
		case <-ctx.Done():
			return
		case msgs, open := <-messages:
			if !open {
				return
			}
			if !writeFrame(conn, "messages", msgs) {
				return
			}
		case status, open := <-typing:
			if !open {
				typing = nil
				continue
			}
			if status.UserID == userID {
				continue
			}
			if !writeFrame(conn, "typing", status) {
				return
			}
		}
	}
}

func (h *Handler) readMessagesWS(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, chatID, userID string) {
	defer cancel()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case "message":
			var payload struct {
				Content      string `json:"content"`
				Type         string `json:"type"`
				AttachmentID string `json:"attachment_id"`
			}
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				continue
			}
			msg := domain.Message{
				SenderID:     userID,
				Content:      payload.Content,
				Type:         domain.MessageType(payload.Type),
				AttachmentID: payload.AttachmentID,
			}
			if _, err := h.repo.SendMessage(ctx, chatID, msg); err != nil {
				h.errors.Report(err, "chat")
			}
		case "typing":
			status := domain.TypingStatus{UserID: userID, IsTyping: env.IsTyping, Timestamp: domain.NowMillis()}
			_ = h.repo.SetTypingStatus(ctx, chatID, status)
		}
	}
}

func writeStream[T any](ctx context.Context, conn *websocket.Conn, frameType string, stream <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, open := <-stream:
			if !open {
				return
			}
			if !writeFrame(conn, frameType, v) {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frameType string, payload any) bool {
	body, err := json.Marshal(gin.H{"type": frameType, "payload": payload})
	if err != nil {
		commonlog.Errorf("event=ws action=marshal status=failed type=%s error=%v", frameType, err)
		return true
	}
	return conn.WriteMessage(websocket.TextMessage, body) == nil
}

// discardReads keeps the read pump alive so pings and close frames are
// processed, cancelling the stream when the peer goes away.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

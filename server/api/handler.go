package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carecomms/server/chat"
	commonauth "carecomms/server/common/auth"
	"carecomms/server/common/middleware"
	"carecomms/server/common/transport/httpresp"
	"carecomms/server/domain"
	"carecomms/server/errs"
	"carecomms/server/files"
	"carecomms/server/invite"
	"carecomms/server/network"
	"carecomms/server/offline"
	"carecomms/server/store"
)

type Handler struct {
	store   *store.Store
	repo    *chat.Repository
	invites *invite.Repository
	files   *files.Service
	coord   *offline.Coordinator
	monitor *network.Monitor
	auth    *commonauth.Service
	errors  *errs.Handler
}

func NewHandler(s *store.Store, repo *chat.Repository, invites *invite.Repository, fileSvc *files.Service, coord *offline.Coordinator, monitor *network.Monitor, jwtSecret string, jwtTTLMinutes int, errHandler *errs.Handler) *Handler {
	return &Handler{
		store:   s,
		repo:    repo,
		invites: invites,
		files:   fileSvc,
		coord:   coord,
		monitor: monitor,
		auth:    commonauth.NewService(jwtSecret, jwtTTLMinutes),
		errors:  errHandler,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, httpresp.NewOKResponse()) })
	r.GET("/ws/chats", h.handleChatListWS)
	r.GET("/ws/chats/:id/messages", h.handleMessagesWS)

	r.POST("/api/v1/auth/register", h.register)
	r.POST("/api/v1/auth/login", h.login)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/chats", h.listChats)
		api.POST("/chats", h.createChat)
		api.GET("/chats/lookup", h.lookupChat)
		api.GET("/chats/:id/messages", h.listMessages)
		api.POST("/chats/:id/messages", h.sendMessage)
		api.POST("/chats/:id/read", h.markRead)
		api.POST("/chats/:id/read-all", h.markAllRead)
		api.POST("/chats/:id/typing", h.setTyping)

		api.GET("/users/me", h.me)
		api.PUT("/users/me", h.updateMe)

		api.POST("/invitations", middleware.RequireRoles(string(domain.UserRoleCarer)), h.generateInvitation)
		api.GET("/invitations/validate", h.validateInvitation)
		api.POST("/invitations/accept", middleware.RequireRoles(string(domain.UserRoleCaree)), h.acceptInvitation)
		api.POST("/invitations/:token/revoke", middleware.RequireRoles(string(domain.UserRoleCarer)), h.revokeInvitation)

		api.POST("/chats/:id/attachments/:messageId/upload-url", h.presignUpload)
		api.GET("/chats/:id/attachments/:messageId/download-url", h.presignDownload)
		api.POST("/chats/:id/attachments/:messageId/complete", h.completeUpload)

		api.GET("/sync/status", h.syncStatus)
		api.POST("/sync/run", h.runSync)
	}
}

func actorID(c *gin.Context) string {
	if raw, ok := c.Get("auth_user_id"); ok {
		if id, ok := raw.(string); ok {
			return id
		}
	}
	return ""
}

// fail classifies the error, broadcasts it to error subscribers, and renders
// the classification onto the response. Errors that already carry a
// classification (retry paths report as they go) are rendered as-is.
func (h *Handler) fail(c *gin.Context, err error, opContext string) {
	var app *errs.AppError
	if !errors.As(err, &app) {
		app = h.errors.Report(err, opContext)
	}
	c.JSON(statusFor(app), httpresp.ErrorResponse{
		Error:   app.Message,
		Retry:   app.Retry,
		Action:  app.Action,
		Kind:    app.Kind.String(),
		Context: app.Context,
	})
}

func statusFor(app *errs.AppError) int {
	switch app.Kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthentication:
		return http.StatusUnauthorized
	case errs.KindUserNotFound, errs.KindChatNotFound:
		return http.StatusNotFound
	case errs.KindInvitationExpired:
		return http.StatusGone
	case errs.KindInvitationUsed:
		return http.StatusConflict
	case errs.KindOffline, errs.KindNetwork:
		return http.StatusServiceUnavailable
	case errs.KindServer:
		if app.Code >= 400 {
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Role     string `json:"role"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "registration")
		return
	}
	role := domain.UserRole(req.Role)
	if role != domain.UserRoleCarer && role != domain.UserRoleCaree {
		role = domain.UserRoleCaree
	}
	id, err := h.store.CreateUser(c.Request.Context(), domain.User{Email: req.Email, Name: req.Name, Role: role}, req.Password)
	if err != nil {
		h.fail(c, err, "registration")
		return
	}
	token, err := h.auth.GenerateToken(id, string(role))
	if err != nil {
		h.fail(c, err, "registration")
		return
	}
	c.JSON(http.StatusCreated, httpresp.NewTokenResponse(token, id, string(role)))
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "login")
		return
	}
	user, err := h.store.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			err = errs.ErrUnauthorized
		}
		h.fail(c, err, "login")
		return
	}
	token, err := h.auth.GenerateToken(user.ID, string(user.Role))
	if err != nil {
		h.fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, user.ID, string(user.Role)))
}

func (h *Handler) listChats(c *gin.Context) {
	owner := actorID(c)
	query := strings.TrimSpace(c.Query("q"))
	items, err := h.store.ListPreviews(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err, "chat")
		return
	}
	if query != "" {
		items = filterPreviews(items, query)
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) createChat(c *gin.Context) {
	var req struct {
		CareeID string `json:"caree_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "chat")
		return
	}
	id, err := h.repo.CreateChat(c.Request.Context(), actorID(c), req.CareeID)
	if err != nil {
		h.fail(c, err, "chat")
		return
	}
	c.JSON(http.StatusCreated, httpresp.NewIDResponse(id))
}

func (h *Handler) lookupChat(c *gin.Context) {
	careeID := strings.TrimSpace(c.Query("caree_id"))
	if careeID == "" {
		h.fail(c, errs.ErrValidation, "chat")
		return
	}
	var id string
	err := h.errors.HandleWithRetry(c.Request.Context(), "chat", func(ctx context.Context) error {
		var lookupErr error
		id, lookupErr = h.repo.ChatID(ctx, actorID(c), careeID)
		return lookupErr
	})
	if err != nil {
		h.fail(c, err, "chat")
		return
	}
	if id == "" {
		h.fail(c, errs.ErrChatNotFound, "chat")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewIDResponse(id))
}

func (h *Handler) listMessages(c *gin.Context) {
	msgs, err := h.store.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "chat")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req struct {
		Content      string `json:"content"`
		Type         string `json:"type"`
		AttachmentID string `json:"attachment_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "chat")
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.AttachmentID == "" {
		h.fail(c, errs.ErrValidation, "chat")
		return
	}
	msg := domain.Message{
		SenderID:     actorID(c),
		Content:      req.Content,
		Type:         domain.MessageType(req.Type),
		AttachmentID: req.AttachmentID,
	}
	saved, err := h.repo.SendMessage(c.Request.Context(), c.Param("id"), msg)
	if err != nil {
		h.fail(c, err, "chat")
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *Handler) markRead(c *gin.Context) {
	var req struct {
		MessageID string `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "chat")
		return
	}
	if err := h.repo.MarkAsRead(c.Request.Context(), c.Param("id"), req.MessageID); err != nil {
		h.fail(c, err, "chat")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) markAllRead(c *gin.Context) {
	if err := h.repo.MarkAllAsRead(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		h.fail(c, err, "chat")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) setTyping(c *gin.Context) {
	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "chat")
		return
	}
	status := domain.TypingStatus{UserID: actorID(c), IsTyping: req.IsTyping, Timestamp: domain.NowMillis()}
	if err := h.repo.SetTypingStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		h.fail(c, err, "chat")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), actorID(c))
	if err != nil {
		h.fail(c, err, "profile")
		return
	}
	user.PasswordHash = ""
	c.JSON(http.StatusOK, user)
}

func (h *Handler) updateMe(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "profile")
		return
	}
	user := domain.User{ID: actorID(c), Name: req.Name, Email: req.Email}
	if err := h.repo.UpdateUser(c.Request.Context(), user); err != nil {
		h.fail(c, err, "profile")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) generateInvitation(c *gin.Context) {
	link, err := h.invites.GenerateLink(c.Request.Context(), actorID(c))
	if err != nil {
		h.fail(c, err, "invitation")
		return
	}
	c.JSON(http.StatusCreated, httpresp.NewURLResponse(link))
}

func (h *Handler) validateInvitation(c *gin.Context) {
	token, err := invitationToken(c.Query("token"), c.Query("link"))
	if err != nil {
		h.fail(c, err, "invitation")
		return
	}
	inv, err := h.invites.Validate(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err, "invitation")
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) acceptInvitation(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
		Link  string `json:"link"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "invitation")
		return
	}
	token, err := invitationToken(req.Token, req.Link)
	if err != nil {
		h.fail(c, err, "invitation")
		return
	}
	var chatID string
	err = h.errors.HandleWithRetry(c.Request.Context(), "invitation", func(ctx context.Context) error {
		var acceptErr error
		chatID, acceptErr = h.invites.Accept(ctx, token, actorID(c))
		return acceptErr
	})
	if err != nil {
		h.fail(c, err, "invitation")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewIDResponse(chatID))
}

func (h *Handler) revokeInvitation(c *gin.Context) {
	if err := h.invites.Revoke(c.Request.Context(), c.Param("token")); err != nil {
		h.fail(c, err, "invitation")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func invitationToken(token, link string) (string, error) {
	token = strings.TrimSpace(token)
	if token != "" {
		return token, nil
	}
	link = strings.TrimSpace(link)
	if link == "" {
		return "", errs.ErrValidation
	}
	return invite.ParseLink(link)
}

func (h *Handler) presignUpload(c *gin.Context) {
	if h.files == nil {
		h.fail(c, errs.ErrValidation, "attachment")
		return
	}
	u, err := h.files.PresignUpload(c.Request.Context(), c.Param("id"), c.Param("messageId"))
	if err != nil {
		h.fail(c, err, "attachment")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewURLResponse(u))
}

func (h *Handler) presignDownload(c *gin.Context) {
	if h.files == nil {
		h.fail(c, errs.ErrValidation, "attachment")
		return
	}
	thumbnail := c.Query("thumbnail") == "1" || c.Query("thumbnail") == "true"
	u, err := h.files.PresignDownload(c.Request.Context(), c.Param("id"), c.Param("messageId"), thumbnail)
	if err != nil {
		h.fail(c, err, "attachment")
		return
	}
	c.JSON(http.StatusOK, httpresp.NewURLResponse(u))
}

func (h *Handler) completeUpload(c *gin.Context) {
	if h.files == nil {
		h.fail(c, errs.ErrValidation, "attachment")
		return
	}
	var req struct {
		ContentType string `json:"content_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrValidation, "attachment")
		return
	}
	thumbKey, err := h.files.ProcessUpload(c.Request.Context(), c.Param("id"), c.Param("messageId"), req.ContentType)
	if err != nil {
		h.fail(c, err, "attachment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"thumbnail_key": thumbKey})
}

func (h *Handler) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online":       h.monitor.IsOnline(),
		"pending":      h.coord.Pending(),
		"dead_letters": h.coord.DeadLetters(),
	})
}

func (h *Handler) runSync(c *gin.Context) {
	h.coord.SyncPending(c.Request.Context())
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func filterPreviews(items []domain.ChatPreview, query string) []domain.ChatPreview {
	q := strings.ToLower(query)
	filtered := make([]domain.ChatPreview, 0, len(items))
	for _, p := range items {
		if strings.Contains(strings.ToLower(p.CareeName), q) || strings.Contains(strings.ToLower(p.LastMessage), q) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

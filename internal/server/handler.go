package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bubblegumsoldier/liive/internal/models"
	"github.com/bubblegumsoldier/liive/internal/mw"
	"github.com/bubblegumsoldier/liive/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler 聚合全部 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	chatSvc *service.ChatService
	msgSvc  *service.MessageService
}

func NewHandler(userSvc *service.UserService, chatSvc *service.ChatService, msgSvc *service.MessageService) *Handler {
	return &Handler{userSvc: userSvc, chatSvc: chatSvc, msgSvc: msgSvc}
}

// serviceErr 把业务层错误映射到 HTTP 状态码，存储层细节不外泄。
func serviceErr(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNoParticipants),
		errors.Is(err, service.ErrOneOnOneSize),
		errors.Is(err, service.ErrOneOnOneImmutable),
		errors.Is(err, service.ErrAlreadyParticipant),
		errors.Is(err, service.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(c.Request.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) || errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "email": result.Email, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

type participantReq struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
}

// CreateChat 处理创建会话请求。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		IsOneOnOne   bool             `json:"is_one_on_one"`
		Participants []participantReq `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	parts := make([]service.ParticipantInput, 0, len(req.Participants))
	for _, p := range req.Participants {
		role, ok := models.ParseRole(p.Role)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		parts = append(parts, service.ParticipantInput{UserID: p.UserID, Role: role})
	}
	chat, err := h.chatSvc.Create(c.Request.Context(), mw.UserID(c), req.IsOneOnOne, parts)
	if err != nil {
		serviceErr(c, err, "failed to create chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// ListChats 返回 caller 参与的全部会话。
func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.chatSvc.ListForUser(c.Request.Context(), mw.UserID(c))
	if err != nil {
		serviceErr(c, err, "failed to list chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat 返回单个会话及其成员。
func (h *Handler) GetChat(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	chat, err := h.chatSvc.Get(c.Request.Context(), mw.UserID(c), chatID)
	if err != nil {
		serviceErr(c, err, "failed to get chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// AddParticipant 把用户拉进群聊。
func (h *Handler) AddParticipant(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	var req participantReq
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	p, err := h.chatSvc.AddParticipant(c.Request.Context(), mw.UserID(c), chatID, req.UserID, role)
	if err != nil {
		serviceErr(c, err, "failed to add participant")
		return
	}
	c.JSON(http.StatusOK, p)
}

// RemoveParticipant 把用户移出群聊。
func (h *Handler) RemoveParticipant(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.chatSvc.RemoveParticipant(c.Request.Context(), mw.UserID(c), chatID, uint(userID)); err != nil {
		serviceErr(c, err, "failed to remove participant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "participant removed"})
}

// UpdateParticipantRole 修改成员角色。
func (h *Handler) UpdateParticipantRole(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	p, err := h.chatSvc.UpdateParticipantRole(c.Request.Context(), mw.UserID(c), chatID, uint(userID), role)
	if err != nil {
		serviceErr(c, err, "failed to update participant role")
		return
	}
	c.JSON(http.StatusOK, p)
}

// SetMessage 更新 caller 自己在会话里的状态消息。
func (h *Handler) SetMessage(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.chatSvc.SetMessage(c.Request.Context(), mw.UserID(c), chatID, req.Message)
	if err != nil {
		serviceErr(c, err, "failed to set message")
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListMessages 处理获取会话消息历史请求。
func (h *Handler) ListMessages(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	limitStr := c.Query("limit")
	if limitStr == "" {
		limitStr = "50"
	}
	limit, _ := strconv.Atoi(limitStr)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.ListByChat(c.Request.Context(), mw.UserID(c), chatID, limit, beforeID)
	if err != nil {
		serviceErr(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

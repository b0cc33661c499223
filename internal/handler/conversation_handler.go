// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"tutor-insight-go/internal/middleware"
	"tutor-insight-go/internal/service"
	"tutor-insight-go/pkg/log"
	"tutor-insight-go/pkg/token"
)

// IdempotencyKeyHeader 客户端重试创建会话时携带的请求头。
const IdempotencyKeyHeader = "Idempotency-Key"

// ConversationHandler 处理与会话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// Create 处理创建会话的请求。命中已有会话时返回 200，新建时返回 201。
func (h *ConversationHandler) Create(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(*token.CustomClaims)

	var req service.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数无效", nil)
		return
	}
	req.IdempotencyKey = c.GetHeader(IdempotencyKeyHeader)

	res, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, service.ErrConversationNotFound):
		respond(c, http.StatusConflict, "会话 ID 已被占用", nil)
		return
	case err != nil:
		log.Errorf("创建会话失败, UserID: %d, Error: %v", claims.UserID, err)
		respond(c, http.StatusInternalServerError, "创建会话失败", nil)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respond(c, status, "success", res)
}

// List 处理获取用户会话列表的请求。
func (h *ConversationHandler) List(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(*token.CustomClaims)

	list, err := h.service.List(c.Request.Context(), claims.UserID)
	if err != nil {
		log.Errorf("获取会话列表失败, UserID: %d, Error: %v", claims.UserID, err)
		respond(c, http.StatusInternalServerError, "Failed to retrieve conversations", nil)
		return
	}
	respond(c, http.StatusOK, "success", list)
}

// AppendTurn 处理追加发言的请求。
func (h *ConversationHandler) AppendTurn(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(*token.CustomClaims)

	var req service.AppendTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数无效", nil)
		return
	}

	summary, err := h.service.AppendTurn(c.Request.Context(), claims.UserID, c.Param("id"), req)
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, service.ErrConversationNotFound):
		respond(c, http.StatusNotFound, err.Error(), nil)
		return
	case err != nil:
		log.Errorf("追加发言失败, UserID: %d, ConversationID: %s, Error: %v", claims.UserID, c.Param("id"), err)
		respond(c, http.StatusInternalServerError, "追加发言失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", summary)
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

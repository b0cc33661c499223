package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"tutor-insight-go/internal/middleware"
	"tutor-insight-go/internal/service"
	"tutor-insight-go/pkg/log"
	"tutor-insight-go/pkg/token"
)

// AnalysisHandler 处理学习信号分析的触发与查询请求。
type AnalysisHandler struct {
	service service.AnalysisService
}

// NewAnalysisHandler 创建一个新的 AnalysisHandler。
func NewAnalysisHandler(service service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

type runRequest struct {
	Limit int `json:"limit" binding:"gte=0"`
}

type sweepRequest struct {
	UserID *uint `json:"userId"`
	Limit  int   `json:"limit" binding:"gte=0"`
}

// Run 对当前用户最近的发言执行一次分析，只返回计数，单条发言的诊断信息只写日志。
func (h *AnalysisHandler) Run(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(*token.CustomClaims)

	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond(c, http.StatusBadRequest, "请求参数无效", nil)
			return
		}
	}

	res, err := h.service.Run(c.Request.Context(), claims.UserID, req.Limit)
	if errors.Is(err, service.ErrRunInProgress) {
		respond(c, http.StatusConflict, err.Error(), nil)
		return
	}
	if err != nil {
		log.Errorf("分析失败, UserID: %d, Error: %v", claims.UserID, err)
		respond(c, http.StatusInternalServerError, "分析失败，请稍后重试", nil)
		return
	}
	respond(c, http.StatusOK, "success", res)
}

// ListAttempts 返回当前用户最近的分析记录。
func (h *AnalysisHandler) ListAttempts(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(*token.CustomClaims)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond(c, http.StatusBadRequest, "limit 必须是非负整数", nil)
			return
		}
		limit = n
	}

	views, err := h.service.ListAttempts(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		log.Errorf("获取分析记录失败, UserID: %d, Error: %v", claims.UserID, err)
		respond(c, http.StatusInternalServerError, "获取分析记录失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", views)
}

// Sweep 由管理员触发异步分析，userId 为空时扫描全部用户。
func (h *AnalysisHandler) Sweep(c *gin.Context) {
	claims := c.MustGet(middleware.ClaimsKey).(*token.CustomClaims)

	var req sweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond(c, http.StatusBadRequest, "请求参数无效", nil)
			return
		}
	}

	taskID, err := h.service.Enqueue(c.Request.Context(), claims.UserID, req.UserID, req.Limit)
	if err != nil {
		log.Errorf("投递分析任务失败, Error: %v", err)
		respond(c, http.StatusServiceUnavailable, "投递分析任务失败", nil)
		return
	}
	respond(c, http.StatusAccepted, "accepted", gin.H{"taskId": taskID})
}

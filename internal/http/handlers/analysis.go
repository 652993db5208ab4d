package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/listinglens-backend/internal/http/response"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
	"github.com/yungbote/listinglens-backend/internal/services"
)

type AnalysisHandler struct {
	log      *logger.Logger
	analysis services.AnalysisService
}

func NewAnalysisHandler(log *logger.Logger, analysis services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{log: log.With("handler", "AnalysisHandler"), analysis: analysis}
}

type analyzeRequest struct {
	AmazonURL string `json:"amazon_url" binding:"required"`
}

// POST /api/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rec, err := h.analysis.Submit(c.Request.Context(), req.AmazonURL)
	if err != nil {
		response.RespondAPIError(c, err, "submit_failed")
		return
	}
	response.RespondOK(c, rec)
}

// GET /api/analysis/:id/status
func (h *AnalysisHandler) Status(c *gin.Context) {
	v, err := h.analysis.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err, "status_failed")
		return
	}
	response.RespondOK(c, v)
}

// GET /api/analysis/:id/result
func (h *AnalysisHandler) Result(c *gin.Context) {
	v, err := h.analysis.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err, "result_failed")
		return
	}
	response.RespondOK(c, v)
}

// GET /api/analysis/:id/events
func (h *AnalysisHandler) Events(c *gin.Context) {
	id := c.Param("id")
	evs, err := h.analysis.Events(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err, "events_failed")
		return
	}
	response.RespondOK(c, gin.H{"session_id": id, "events": evs})
}

// GET /api/sessions?limit=N
func (h *AnalysisHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.analysis.ListSessions(c.Request.Context(), limit)
	if err != nil {
		response.RespondAPIError(c, err, "list_sessions_failed")
		return
	}
	response.RespondOK(c, gin.H{"sessions": list, "total": len(list)})
}

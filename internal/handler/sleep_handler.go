package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

// SleepHandler handles HTTP requests for sleep records
type SleepHandler struct {
	service *service.SleepService
	now     func() time.Time
}

// NewSleepHandler creates a new sleep handler
func NewSleepHandler(service *service.SleepService) *SleepHandler {
	return &SleepHandler{service: service, now: time.Now}
}

type importRequest struct {
	Records []models.SleepRecord `json:"records" binding:"required"`
}

// ListSleep handles GET /api/v1/sleep?from=&to=
func (h *SleepHandler) ListSleep(c *gin.Context) {
	from, to, ok := bindRange(c, h.now())
	if !ok {
		return
	}

	records, err := h.service.List(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, "Failed to list sleep records", err)
		return
	}
	response.Success(c, records)
}

// ImportSleep handles POST /api/v1/sleep/import
func (h *SleepHandler) ImportSleep(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.service.Import(c.Request.Context(), req.Records)
	if err != nil {
		writeError(c, "Failed to import sleep records", err)
		return
	}
	response.Success(c, result)
}

// GetStats handles GET /api/v1/sleep/stats?from=&to=
func (h *SleepHandler) GetStats(c *gin.Context) {
	from, to, ok := bindRange(c, h.now())
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, "Failed to compute sleep stats", err)
		return
	}
	response.Success(c, stats)
}

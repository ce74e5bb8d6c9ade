package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

// VisitTagHandler handles HTTP requests for visit tags
type VisitTagHandler struct {
	service *service.VisitTagService
}

// NewVisitTagHandler creates a new visit tag handler
func NewVisitTagHandler(service *service.VisitTagService) *VisitTagHandler {
	return &VisitTagHandler{service: service}
}

// ListTags handles GET /api/v1/visits/:id/tags
func (h *VisitTagHandler) ListTags(c *gin.Context) {
	visitID, ok := parseID(c)
	if !ok {
		return
	}

	tags, err := h.service.List(c.Request.Context(), visitID)
	if err != nil {
		writeError(c, "Failed to list visit tags", err)
		return
	}
	response.Success(c, tags)
}

// AddTag handles POST /api/v1/visits/:id/tags
func (h *VisitTagHandler) AddTag(c *gin.Context) {
	visitID, ok := parseID(c)
	if !ok {
		return
	}

	var req models.CreateVisitTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	tag, err := h.service.Add(c.Request.Context(), visitID, req)
	if err != nil {
		writeError(c, "Failed to tag visit", err)
		return
	}
	response.Created(c, tag)
}

// DeleteTag handles DELETE /api/v1/visits/:id/tags/:tagId
func (h *VisitTagHandler) DeleteTag(c *gin.Context) {
	visitID, ok := parseID(c)
	if !ok {
		return
	}
	tagID, err := strconv.ParseInt(c.Param("tagId"), 10, 64)
	if err != nil || tagID <= 0 {
		response.BadRequest(c, "Invalid tag ID", err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), visitID, tagID); err != nil {
		writeError(c, "Failed to delete visit tag", err)
		return
	}
	response.Success(c, gin.H{"id": tagID})
}

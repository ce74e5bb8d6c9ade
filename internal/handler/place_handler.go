package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

// PlaceHandler handles HTTP requests for places
type PlaceHandler struct {
	service *service.PlaceService
}

// NewPlaceHandler creates a new place handler
func NewPlaceHandler(service *service.PlaceService) *PlaceHandler {
	return &PlaceHandler{service: service}
}

// ListPlaces handles GET /api/v1/places
func (h *PlaceHandler) ListPlaces(c *gin.Context) {
	places, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to list places", err)
		return
	}
	response.Success(c, places)
}

// CreatePlace handles POST /api/v1/places
func (h *PlaceHandler) CreatePlace(c *gin.Context) {
	var req models.CreatePlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	place, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, "Failed to create place", err)
		return
	}
	response.Created(c, place)
}

// GetPlace handles GET /api/v1/places/:id
func (h *PlaceHandler) GetPlace(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	place, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, "Failed to get place", err)
		return
	}
	response.Success(c, place)
}

// DeletePlace handles DELETE /api/v1/places/:id
func (h *PlaceHandler) DeletePlace(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		writeError(c, "Failed to delete place", err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/tracking"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

// EventHandler feeds sensor events into the tracking engine
type EventHandler struct {
	engine *tracking.Engine
}

// NewEventHandler creates a new event handler
func NewEventHandler(engine *tracking.Engine) *EventHandler {
	return &EventHandler{engine: engine}
}

type activityRequest struct {
	Kind     string `json:"kind" binding:"required"`
	Entering bool   `json:"entering"`
	Time     int64  `json:"time" binding:"required"`
}

type geofenceRequest struct {
	PlaceID    int64  `json:"placeId" binding:"required"`
	Transition string `json:"transition" binding:"required"`
	Time       int64  `json:"time" binding:"required"`
}

// engineContext keeps request cancellation from reaching engine writes
func engineContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// PostLocation handles POST /api/v1/events/location
func (h *EventHandler) PostLocation(c *gin.Context) {
	var sample models.LocationSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		response.BadRequest(c, "Invalid location sample", err)
		return
	}

	if err := h.engine.HandleLocation(engineContext(c), sample); err != nil {
		writeError(c, "Failed to apply location sample", err)
		return
	}
	response.Accepted(c, h.engine.Status())
}

// PostActivity handles POST /api/v1/events/activity
func (h *EventHandler) PostActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid activity transition", err)
		return
	}
	kind, err := models.ParseActivityKind(req.Kind)
	if err != nil {
		response.BadRequest(c, "Invalid activity kind", err)
		return
	}

	t := models.ActivityTransition{Kind: kind, Entering: req.Entering, Time: req.Time}
	if err := h.engine.HandleActivity(engineContext(c), t); err != nil {
		writeError(c, "Failed to apply activity transition", err)
		return
	}
	response.Accepted(c, h.engine.Status())
}

// PostGeofence handles POST /api/v1/events/geofence
func (h *EventHandler) PostGeofence(c *gin.Context) {
	var req geofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid geofence event", err)
		return
	}
	transition, err := models.ParseGeofenceTransition(req.Transition)
	if err != nil {
		response.BadRequest(c, "Invalid geofence transition", err)
		return
	}

	ev := models.GeofenceEvent{PlaceID: req.PlaceID, Transition: transition, Time: req.Time}
	if err := h.engine.HandleGeofence(engineContext(c), ev); err != nil {
		writeError(c, "Failed to apply geofence event", err)
		return
	}
	response.Accepted(c, h.engine.Status())
}

// GetStatus handles GET /api/v1/tracking/status
func (h *EventHandler) GetStatus(c *gin.Context) {
	response.Success(c, h.engine.Status())
}

package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

// TimelineHandler serves visits and insights
type TimelineHandler struct {
	service *service.TimelineService
	now     func() time.Time
}

// NewTimelineHandler creates a new timeline handler
func NewTimelineHandler(service *service.TimelineService) *TimelineHandler {
	return &TimelineHandler{service: service, now: time.Now}
}

// GetVisits handles GET /api/v1/visits?from=&to=
func (h *TimelineHandler) GetVisits(c *gin.Context) {
	from, to, ok := bindRange(c, h.now())
	if !ok {
		return
	}

	visits, err := h.service.Visits(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, "Failed to get visits", err)
		return
	}
	response.Success(c, gin.H{
		"from":   from,
		"to":     to,
		"visits": visits,
	})
}

// GetDay handles GET /api/v1/visits/day?date=2006-01-02
func (h *TimelineHandler) GetDay(c *gin.Context) {
	date := h.now()
	if s := c.Query("date"); s != "" {
		d, err := time.ParseInLocation(time.DateOnly, s, h.service.Location())
		if err != nil {
			response.BadRequest(c, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
		date = d
	}

	visits, err := h.service.Day(c.Request.Context(), date)
	if err != nil {
		writeError(c, "Failed to get day timeline", err)
		return
	}
	from, to := h.service.DayBounds(date)
	response.Success(c, gin.H{
		"from":   from,
		"to":     to,
		"visits": visits,
	})
}

// GetBreakdown handles GET /api/v1/insights/breakdown?from=&to=
func (h *TimelineHandler) GetBreakdown(c *gin.Context) {
	from, to, ok := bindRange(c, h.now())
	if !ok {
		return
	}

	breakdown, err := h.service.CategoryBreakdown(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, "Failed to compute category breakdown", err)
		return
	}
	response.Success(c, breakdown)
}

// GetSleepCorrelations handles GET /api/v1/insights/sleep-correlations?from=&to=
func (h *TimelineHandler) GetSleepCorrelations(c *gin.Context) {
	from, to, ok := bindRange(c, h.now())
	if !ok {
		return
	}

	correlations, err := h.service.SleepCorrelations(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, "Failed to compute sleep correlations", err)
		return
	}
	response.Success(c, correlations)
}

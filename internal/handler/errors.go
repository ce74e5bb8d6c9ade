package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/internal/tracking"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

const defaultRange = 7 * 24 * time.Hour

// writeError maps domain errors to HTTP status codes
func writeError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, tracking.ErrUnknownPlace):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRange),
		errors.Is(err, service.ErrInvalidPlace),
		errors.Is(err, service.ErrInvalidTag),
		errors.Is(err, service.ErrUnknownSkill):
		status = http.StatusBadRequest
	}
	response.Error(c, status, message, err)
}

// bindRange reads from/to epoch millis, defaulting to the last seven days
func bindRange(c *gin.Context, now time.Time) (from, to int64, ok bool) {
	var filter models.TimelineFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return 0, 0, false
	}

	to = filter.To
	if to == 0 {
		to = now.UnixMilli()
	}
	from = filter.From
	if from == 0 {
		from = to - defaultRange.Milliseconds()
	}
	return from, to, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid ID", err)
		return 0, false
	}
	return id, true
}

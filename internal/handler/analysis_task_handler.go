package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/lifecycle-backend-go/internal/middleware"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/pkg/response"
)

// AnalysisTaskHandler handles HTTP requests for analysis tasks
type AnalysisTaskHandler struct {
	service *service.AnalysisTaskService
}

// NewAnalysisTaskHandler creates a new analysis task handler
func NewAnalysisTaskHandler(service *service.AnalysisTaskService) *AnalysisTaskHandler {
	return &AnalysisTaskHandler{service: service}
}

// CreateTask creates a new analysis task and runs it in the background
// POST /api/v1/analysis/tasks
func (h *AnalysisTaskHandler) CreateTask(c *gin.Context) {
	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	// Subject set by the auth middleware
	createdBy := c.GetString(middleware.SubjectKey)
	if createdBy == "" {
		createdBy = "api"
	}

	task, err := h.service.CreateTask(c.Request.Context(), req, createdBy)
	if err != nil {
		writeError(c, "Failed to create task", err)
		return
	}

	response.Accepted(c, task)
}

// GetTask retrieves a task by ID
// GET /api/v1/analysis/tasks/:id
func (h *AnalysisTaskHandler) GetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), id)
	if err != nil {
		writeError(c, "Failed to get task", err)
		return
	}

	response.Success(c, task)
}

// ListTasks retrieves tasks, newest first
// GET /api/v1/analysis/tasks
func (h *AnalysisTaskHandler) ListTasks(c *gin.Context) {
	skillName := c.Query("skill_name")
	status := c.Query("status")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}

	tasks, err := h.service.ListTasks(c.Request.Context(), skillName, status, limit, offset)
	if err != nil {
		writeError(c, "Failed to list tasks", err)
		return
	}

	response.Success(c, gin.H{
		"tasks":  tasks,
		"skills": h.service.Skills(),
		"limit":  limit,
		"offset": offset,
	})
}

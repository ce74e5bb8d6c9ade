package models

// AnalysisTask represents a background job over the stored timeline
type AnalysisTask struct {
	ID int64 `json:"id" db:"id"`

	// Task identification
	RunID     string `json:"run_id" db:"run_id"`         // UUID assigned when the task is created
	SkillName string `json:"skill_name" db:"skill_name"` // Which analyzer to run

	// Status
	Status          string `json:"status" db:"status"` // pending, running, completed, failed
	ProgressPercent int    `json:"progress_percent" db:"progress_percent"`

	// Input parameters
	FromTime int64 `json:"from_time" db:"from_time"` // Epoch millis
	ToTime   int64 `json:"to_time" db:"to_time"`     // Epoch millis

	// Execution info
	TotalItems     int `json:"total_items" db:"total_items"`
	ProcessedItems int `json:"processed_items" db:"processed_items"`
	FailedItems    int `json:"failed_items" db:"failed_items"`

	// Results
	ResultSummary string `json:"result_summary,omitempty" db:"result_summary"`
	ErrorMessage  string `json:"error_message,omitempty" db:"error_message"`

	// Metadata
	CreatedBy   string `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
	StartedAt   *int64 `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *int64 `json:"completed_at,omitempty" db:"completed_at"`
}

// TaskStatus constants
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// CreateTaskRequest is the payload for starting an analysis task
type CreateTaskRequest struct {
	SkillName string `json:"skill_name" binding:"required"`
	FromTime  int64  `json:"from_time"`
	ToTime    int64  `json:"to_time"`
}

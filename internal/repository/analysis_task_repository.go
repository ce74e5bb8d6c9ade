package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

const analysisTaskColumns = `id, run_id, skill_name, status, progress_percent, from_time, to_time,
	total_items, processed_items, failed_items, result_summary, error_message,
	created_by, created_at, started_at, completed_at`

// AnalysisTaskRepository handles database operations for analysis tasks
type AnalysisTaskRepository struct {
	db *sql.DB
}

// NewAnalysisTaskRepository creates a new analysis task repository
func NewAnalysisTaskRepository(db *sql.DB) *AnalysisTaskRepository {
	return &AnalysisTaskRepository{db: db}
}

// Create creates a new analysis task
func (r *AnalysisTaskRepository) Create(ctx context.Context, task *models.AnalysisTask) error {
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().UnixMilli()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO analysis_tasks (
			run_id, skill_name, status, progress_percent, from_time, to_time,
			total_items, processed_items, failed_items, result_summary, error_message,
			created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.RunID,
		task.SkillName,
		task.Status,
		task.ProgressPercent,
		task.FromTime,
		task.ToTime,
		task.TotalItems,
		task.ProcessedItems,
		task.FailedItems,
		task.ResultSummary,
		task.ErrorMessage,
		task.CreatedBy,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves an analysis task by ID
func (r *AnalysisTaskRepository) GetByID(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+analysisTaskColumns+` FROM analysis_tasks WHERE id = ?`, id)

	task, err := scanAnalysisTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis task: %w", err)
	}
	return task, nil
}

// List retrieves analysis tasks with optional filters, newest first
func (r *AnalysisTaskRepository) List(ctx context.Context, skillName, status string, limit, offset int) ([]*models.AnalysisTask, error) {
	query := `SELECT ` + analysisTaskColumns + ` FROM analysis_tasks WHERE 1=1`

	args := []any{}
	if skillName != "" {
		query += " AND skill_name = ?"
		args = append(args, skillName)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.AnalysisTask{}
	for rows.Next() {
		task, err := scanAnalysisTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// UpdateProgress updates the progress counters of an analysis task
func (r *AnalysisTaskRepository) UpdateProgress(ctx context.Context, id int64, total, processed, failed int) error {
	percent := 0
	if total > 0 {
		percent = processed * 100 / total
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_tasks
		SET total_items = ?, processed_items = ?, failed_items = ?, progress_percent = ?
		WHERE id = ?`, total, processed, failed, percent, id)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// MarkAsRunning marks a task as running
func (r *AnalysisTaskRepository) MarkAsRunning(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_tasks SET status = ?, started_at = ? WHERE id = ?`,
		models.TaskStatusRunning, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to mark task as running: %w", err)
	}
	return nil
}

// MarkAsCompleted marks a task as completed with result summary
func (r *AnalysisTaskRepository) MarkAsCompleted(ctx context.Context, id int64, resultSummary string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_tasks
		SET status = ?, completed_at = ?, result_summary = ?, progress_percent = 100
		WHERE id = ?`,
		models.TaskStatusCompleted, time.Now().UnixMilli(), resultSummary, id)
	if err != nil {
		return fmt.Errorf("failed to mark task as completed: %w", err)
	}
	return nil
}

// MarkAsFailed marks a task as failed with an error message
func (r *AnalysisTaskRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_tasks
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		models.TaskStatusFailed, time.Now().UnixMilli(), errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark task as failed: %w", err)
	}
	return nil
}

func scanAnalysisTask(row rowScanner) (*models.AnalysisTask, error) {
	task := &models.AnalysisTask{}
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.SkillName,
		&task.Status,
		&task.ProgressPercent,
		&task.FromTime,
		&task.ToTime,
		&task.TotalItems,
		&task.ProcessedItems,
		&task.FailedItems,
		&task.ResultSummary,
		&task.ErrorMessage,
		&task.CreatedBy,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	task.StartedAt = nullableInt64(startedAt)
	task.CompletedAt = nullableInt64(completedAt)
	return task, nil
}

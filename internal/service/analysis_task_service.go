package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/analysis"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
)

// ErrUnknownSkill is returned when a task names a skill no analyzer serves
var ErrUnknownSkill = errors.New("unknown skill")

// AnalysisTaskService handles analysis task business logic
type AnalysisTaskService struct {
	repo   *repository.AnalysisTaskRepository
	runner *analysis.Runner
	logger *zap.Logger

	// base outlives request contexts so tasks keep running after the HTTP call returns
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnalysisTaskService creates a new analysis task service
func NewAnalysisTaskService(repo *repository.AnalysisTaskRepository, runner *analysis.Runner, logger *zap.Logger) *AnalysisTaskService {
	base, cancel := context.WithCancel(context.Background())
	return &AnalysisTaskService{
		repo:   repo,
		runner: runner,
		logger: logger.Named("tasks"),
		base:   base,
		cancel: cancel,
	}
}

// CreateTask persists a new task and starts it in the background
func (s *AnalysisTaskService) CreateTask(ctx context.Context, req models.CreateTaskRequest, createdBy string) (*models.AnalysisTask, error) {
	task, err := s.newTask(ctx, req, createdBy)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Failures are recorded on the task row
		_ = s.runner.Run(s.base, task)
	}()

	return task, nil
}

// RunTask persists a new task and runs it to completion
func (s *AnalysisTaskService) RunTask(ctx context.Context, req models.CreateTaskRequest, createdBy string) (*models.AnalysisTask, error) {
	task, err := s.newTask(ctx, req, createdBy)
	if err != nil {
		return nil, err
	}
	if err := s.runner.Run(ctx, task); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, task.ID)
}

func (s *AnalysisTaskService) newTask(ctx context.Context, req models.CreateTaskRequest, createdBy string) (*models.AnalysisTask, error) {
	if _, ok := s.runner.Registry().Get(req.SkillName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, req.SkillName)
	}

	from, to := req.FromTime, req.ToTime
	if to == 0 {
		to = time.Now().UnixMilli()
	}
	if to < from {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, from, to)
	}

	task := &models.AnalysisTask{
		RunID:     uuid.NewString(),
		SkillName: req.SkillName,
		Status:    models.TaskStatusPending,
		FromTime:  from,
		ToTime:    to,
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("Task created",
		zap.Int64("task_id", task.ID),
		zap.String("run_id", task.RunID),
		zap.String("skill", task.SkillName),
	)
	return task, nil
}

// GetTask retrieves a task by ID
func (s *AnalysisTaskService) GetTask(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	return s.repo.GetByID(ctx, id)
}

// ListTasks retrieves tasks with optional filters
func (s *AnalysisTaskService) ListTasks(ctx context.Context, skillName, status string, limit, offset int) ([]*models.AnalysisTask, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, skillName, status, limit, offset)
}

// Skills returns the registered skill names
func (s *AnalysisTaskService) Skills() []string {
	return s.runner.Registry().Names()
}

// Wait blocks until every background task has finished
func (s *AnalysisTaskService) Wait() {
	s.wg.Wait()
}

// Close cancels running background tasks and waits for them to stop
func (s *AnalysisTaskService) Close() {
	s.cancel()
	s.wg.Wait()
}

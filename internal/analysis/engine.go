// Package analysis runs named batch jobs ("skills") over the stored timeline
// and records their progress in the analysis_tasks table.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
)

// Analyzer is the interface that all analysis skills must implement
type Analyzer interface {
	// Name returns the skill name tasks refer to
	Name() string

	// Analyze processes task.FromTime..task.ToTime, reporting progress as it
	// goes, and returns a short result summary
	Analyze(ctx context.Context, task *models.AnalysisTask, report ProgressFunc) (string, error)
}

// ProgressFunc receives item counters while an analyzer runs
type ProgressFunc func(total, processed, failed int)

// Registry maps skill names to analyzers
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// Register adds an analyzer, replacing any with the same name
func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Name()] = a
}

// Get retrieves the analyzer for a skill name
func (r *Registry) Get(name string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	return a, ok
}

// Names returns the registered skill names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.analyzers))
	for name := range r.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner executes tasks and persists their lifecycle
type Runner struct {
	repo     *repository.AnalysisTaskRepository
	registry *Registry
	logger   *zap.Logger
}

// NewRunner creates a new task runner
func NewRunner(repo *repository.AnalysisTaskRepository, registry *Registry, logger *zap.Logger) *Runner {
	return &Runner{
		repo:     repo,
		registry: registry,
		logger:   logger.Named("analysis"),
	}
}

// Registry returns the analyzers this runner dispatches to
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes a persisted task synchronously, marking it running, then
// completed or failed
func (r *Runner) Run(ctx context.Context, task *models.AnalysisTask) error {
	log := r.logger.With(
		zap.Int64("task_id", task.ID),
		zap.String("run_id", task.RunID),
		zap.String("skill", task.SkillName),
	)

	analyzer, ok := r.registry.Get(task.SkillName)
	if !ok {
		err := fmt.Errorf("unknown skill: %s", task.SkillName)
		r.fail(ctx, log, task.ID, err)
		return err
	}

	if err := r.repo.MarkAsRunning(ctx, task.ID); err != nil {
		return err
	}
	log.Info("Analysis started")

	report := func(total, processed, failed int) {
		if err := r.repo.UpdateProgress(ctx, task.ID, total, processed, failed); err != nil {
			log.Warn("Failed to update task progress", zap.Error(err))
		}
	}

	summary, err := analyzer.Analyze(ctx, task, report)
	if err != nil {
		r.fail(ctx, log, task.ID, err)
		return err
	}

	if err := r.repo.MarkAsCompleted(ctx, task.ID, summary); err != nil {
		return err
	}
	log.Info("Analysis completed", zap.String("summary", summary))
	return nil
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, id int64, cause error) {
	log.Error("Analysis failed", zap.Error(cause))
	// The task context may already be cancelled; record the failure regardless
	if err := r.repo.MarkAsFailed(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		log.Warn("Failed to mark task as failed", zap.Error(err))
	}
}

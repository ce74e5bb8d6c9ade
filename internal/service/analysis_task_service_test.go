package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/analysis"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
)

type stubAnalyzer struct {
	name string
	err  error
}

func (a *stubAnalyzer) Name() string { return a.name }

func (a *stubAnalyzer) Analyze(_ context.Context, _ *models.AnalysisTask, report analysis.ProgressFunc) (string, error) {
	report(2, 1, 0)
	if a.err != nil {
		return "", a.err
	}
	report(2, 2, 0)
	return `{"ok":true}`, nil
}

func newTaskService(t *testing.T) *AnalysisTaskService {
	t.Helper()
	repo := repository.NewAnalysisTaskRepository(newTestDB(t))
	registry := analysis.NewRegistry()
	registry.Register(&stubAnalyzer{name: "ok"})
	registry.Register(&stubAnalyzer{name: "broken", err: errors.New("disk on fire")})

	svc := NewAnalysisTaskService(repo, analysis.NewRunner(repo, registry, zap.NewNop()), zap.NewNop())
	t.Cleanup(svc.Close)
	return svc
}

func TestAnalysisTaskService_CreateRunsInBackground(t *testing.T) {
	ctx := context.Background()
	svc := newTaskService(t)

	task, err := svc.CreateTask(ctx, models.CreateTaskRequest{SkillName: "ok", FromTime: 0, ToTime: 1000}, "tester")
	require.NoError(t, err)
	assert.NotEmpty(t, task.RunID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	svc.Wait()

	got, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Equal(t, `{"ok":true}`, got.ResultSummary)
	assert.Equal(t, "tester", got.CreatedBy)
}

func TestAnalysisTaskService_RunFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTaskService(t)

	_, err := svc.RunTask(ctx, models.CreateTaskRequest{SkillName: "broken", ToTime: 10}, "")
	require.Error(t, err)

	failed, err := svc.ListTasks(ctx, "broken", models.TaskStatusFailed, 0, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "disk on fire", failed[0].ErrorMessage)
	assert.Equal(t, 1, failed[0].ProcessedItems)
}

func TestAnalysisTaskService_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTaskService(t)

	_, err := svc.CreateTask(ctx, models.CreateTaskRequest{SkillName: "nope"}, "")
	assert.ErrorIs(t, err, ErrUnknownSkill)

	_, err = svc.CreateTask(ctx, models.CreateTaskRequest{SkillName: "ok", FromTime: 10, ToTime: 5}, "")
	assert.ErrorIs(t, err, ErrInvalidRange)

	assert.Equal(t, []string{"broken", "ok"}, svc.Skills())
}

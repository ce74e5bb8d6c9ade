package analysis

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

// SkillSleepBackfill rescans stored stays for missed sleep
const SkillSleepBackfill = "sleep_backfill"

// VisitSource lists stored visits joined with their place
type VisitSource interface {
	QueryInRange(ctx context.Context, from, to int64) ([]models.VisitWithPlace, error)
}

// SleepSink runs sleep inference for one finalized visit
type SleepSink interface {
	OnVisitFinalized(ctx context.Context, summary models.VisitSummary) (*models.SleepRecord, error)
}

// SleepBackfillAnalyzer feeds closed still-like visits back through sleep
// inference. Inference skips intervals that already have a record, so
// reruns over the same range are harmless.
type SleepBackfillAnalyzer struct {
	visits VisitSource
	sleep  SleepSink
	logger *zap.Logger
}

// NewSleepBackfillAnalyzer creates a new sleep backfill analyzer
func NewSleepBackfillAnalyzer(visits VisitSource, sleep SleepSink, logger *zap.Logger) *SleepBackfillAnalyzer {
	return &SleepBackfillAnalyzer{
		visits: visits,
		sleep:  sleep,
		logger: logger.Named(SkillSleepBackfill),
	}
}

// Name returns the skill name
func (a *SleepBackfillAnalyzer) Name() string {
	return SkillSleepBackfill
}

// Analyze runs sleep inference over every closed still-like visit in the task range
func (a *SleepBackfillAnalyzer) Analyze(ctx context.Context, task *models.AnalysisTask, report ProgressFunc) (string, error) {
	visits, err := a.visits.QueryInRange(ctx, task.FromTime, task.ToTime)
	if err != nil {
		return "", err
	}

	candidates := make([]models.VisitWithPlace, 0, len(visits))
	for _, v := range visits {
		if v.EndTime == nil || models.IsMovementCategory(v.PlaceCategory) {
			continue
		}
		candidates = append(candidates, v)
	}

	total := len(candidates)
	report(total, 0, 0)

	inferred, failed := 0, 0
	for i, v := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		rec, err := a.sleep.OnVisitFinalized(ctx, summaryFromVisit(v))
		switch {
		case err != nil:
			failed++
			a.logger.Warn("Sleep inference failed", zap.Int64("visit_id", v.ID), zap.Error(err))
		case rec != nil:
			inferred++
		}
		report(total, i+1, failed)
	}

	summary, _ := json.Marshal(map[string]int{
		"candidates": total,
		"inferred":   inferred,
		"failed":     failed,
	})
	return string(summary), nil
}

func summaryFromVisit(v models.VisitWithPlace) models.VisitSummary {
	sessionType := models.SessionStill
	if v.Confidence == models.ConfidenceGeofence {
		sessionType = models.SessionGeofence
	}
	return models.VisitSummary{
		VisitID:    v.ID,
		PlaceID:    v.PlaceID,
		Category:   v.PlaceCategory,
		Type:       sessionType,
		StartTime:  v.StartTime,
		EndTime:    *v.EndTime,
		Confidence: v.Confidence,
	}
}

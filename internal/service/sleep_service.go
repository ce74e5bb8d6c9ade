package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/config"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
	"github.com/jengzang/lifecycle-backend-go/internal/stats"
)

// ErrInvalidRange is returned when a query range ends before it starts
var ErrInvalidRange = errors.New("invalid time range")

// ImportResult reports how many provider records were written
type ImportResult struct {
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Invalid  []string `json:"invalid,omitempty"`
}

// SleepService infers sleep from finalized stays and manages sleep records
type SleepService struct {
	repo        *repository.SleepRepository
	minDuration time.Duration
	maxDuration time.Duration
	windowStart int
	windowLen   time.Duration
	loc         *time.Location
	logger      *zap.Logger

	// mu makes count-overlapping-then-insert atomic
	mu sync.Mutex
}

// NewSleepService creates a new sleep service
func NewSleepService(repo *repository.SleepRepository, cfg config.SleepConfig, logger *zap.Logger) (*SleepService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &SleepService{
		repo:        repo,
		minDuration: time.Duration(cfg.MinHours * float64(time.Hour)),
		maxDuration: time.Duration(cfg.MaxHours * float64(time.Hour)),
		windowStart: cfg.WindowStartHour,
		windowLen:   time.Duration(cfg.WindowLengthHours) * time.Hour,
		loc:         loc,
		logger:      logger.Named("sleep"),
	}, nil
}

// Location returns the timezone used for the nightly window
func (s *SleepService) Location() *time.Location {
	return s.loc
}

// OnVisitFinalized records a sleep interval for a still-like visit that is
// duration-bounded and overlaps the nightly window. It returns nil when the
// visit is skipped.
func (s *SleepService) OnVisitFinalized(ctx context.Context, summary models.VisitSummary) (*models.SleepRecord, error) {
	if !summary.Type.IsStillLike() {
		return nil, nil
	}

	duration := time.Duration(summary.DurationMillis()) * time.Millisecond
	if duration < s.minDuration || duration > s.maxDuration {
		return nil, nil
	}

	start := time.UnixMilli(summary.StartTime)
	end := time.UnixMilli(summary.EndTime)
	if !s.InSleepWindow(start, end) {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	overlapping, err := s.repo.CountOverlapping(ctx, summary.StartTime, summary.EndTime)
	if err != nil {
		return nil, err
	}
	if overlapping > 0 {
		s.logger.Debug("Skipping overlapping sleep candidate",
			zap.Int64("start", summary.StartTime),
			zap.Int64("end", summary.EndTime),
		)
		return nil, nil
	}

	record := models.SleepRecord{
		ID:        models.InferredSleepID(summary.StartTime, summary.EndTime),
		StartTime: summary.StartTime,
		EndTime:   summary.EndTime,
		Source:    models.SourceInferred,
	}
	if err := s.repo.InsertAll(ctx, []models.SleepRecord{record}); err != nil {
		return nil, err
	}

	s.logger.Info("Inferred sleep",
		zap.String("id", record.ID),
		zap.Int64("visit_id", summary.VisitID),
		zap.Duration("duration", duration),
	)
	return &record, nil
}

// InSleepWindow reports whether [start, end) intersects the nightly window
// opening on start's local date or the one opening the day before
func (s *SleepService) InSleepWindow(start, end time.Time) bool {
	local := start.In(s.loc)
	y, m, d := local.Date()

	for _, day := range []int{d, d - 1} {
		windowStart := time.Date(y, m, day, s.windowStart, 0, 0, 0, s.loc)
		windowEnd := windowStart.Add(s.windowLen)
		if end.After(windowStart) && start.Before(windowEnd) {
			return true
		}
	}
	return false
}

// Import writes provider-supplied records, skipping any that overlap a stored record
func (s *SleepService) Import(ctx context.Context, records []models.SleepRecord) (*ImportResult, error) {
	result := &ImportResult{}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec.ID == "" || rec.EndTime <= rec.StartTime {
			result.Invalid = append(result.Invalid, rec.ID)
			continue
		}

		overlapping, err := s.repo.CountOverlapping(ctx, rec.StartTime, rec.EndTime)
		if err != nil {
			return result, err
		}
		if overlapping > 0 {
			result.Skipped++
			continue
		}

		if err := s.repo.InsertAll(ctx, []models.SleepRecord{rec}); err != nil {
			return result, err
		}
		result.Inserted++
	}

	s.logger.Info("Imported sleep records",
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("invalid", len(result.Invalid)),
	)
	return result, nil
}

// List returns the sleep records lying within [from, to]
func (s *SleepService) List(ctx context.Context, from, to int64) ([]models.SleepRecord, error) {
	if to < from {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, from, to)
	}
	return s.repo.QueryInRange(ctx, from, to)
}

// Stats summarizes sleep durations in hours over [from, to]
func (s *SleepService) Stats(ctx context.Context, from, to int64) (*models.SleepStats, error) {
	records, err := s.List(ctx, from, to)
	if err != nil {
		return nil, err
	}

	hours := make([]float64, 0, len(records))
	for i := range records {
		hours = append(hours, time.Duration(records[i].DurationMillis()*int64(time.Millisecond)).Hours())
	}

	sum := stats.Summarize(hours)
	return &models.SleepStats{
		Count:         sum.Count,
		MeanHours:     sum.Mean,
		MedianHours:   sum.Median,
		P90Hours:      sum.P90,
		ShortestHours: sum.Min,
		LongestHours:  sum.Max,
	}, nil
}

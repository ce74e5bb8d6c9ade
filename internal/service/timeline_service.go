package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
)

// TimelineService answers timeline and insight queries over stored visits
type TimelineService struct {
	visits *repository.VisitRepository
	sleep  *repository.SleepRepository
	loc    *time.Location
	now    func() time.Time
}

// NewTimelineService creates a new timeline service. Day boundaries use loc.
func NewTimelineService(visits *repository.VisitRepository, sleep *repository.SleepRepository, loc *time.Location) *TimelineService {
	return &TimelineService{
		visits: visits,
		sleep:  sleep,
		loc:    loc,
		now:    time.Now,
	}
}

// Location returns the timezone used for day boundaries
func (s *TimelineService) Location() *time.Location {
	return s.loc
}

// Visits returns visits overlapping [from, to], open visits included
func (s *TimelineService) Visits(ctx context.Context, from, to int64) ([]models.VisitWithPlace, error) {
	if to < from {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, from, to)
	}
	return s.visits.QueryInRange(ctx, from, to)
}

// Day returns the visits overlapping the local calendar day containing date
func (s *TimelineService) Day(ctx context.Context, date time.Time) ([]models.VisitWithPlace, error) {
	from, to := s.DayBounds(date)
	return s.visits.QueryInRange(ctx, from, to)
}

// DayBounds returns the first and last millisecond of date's local calendar day
func (s *TimelineService) DayBounds(date time.Time) (int64, int64) {
	y, m, d := date.In(s.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
	return start.UnixMilli(), end.UnixMilli() - 1
}

// CategoryBreakdown sums the time spent per place category within [from, to].
// Visits are clipped to the range and open visits count up to now.
// PercentOfInterval is the share of all tracked time in the range.
func (s *TimelineService) CategoryBreakdown(ctx context.Context, from, to int64) ([]models.CategoryBreakdown, error) {
	visits, err := s.Visits(ctx, from, to)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	totals := make(map[string]int64)
	var tracked int64
	for i := range visits {
		v := &visits[i]
		start := max(v.StartTime, from)
		end := now
		if v.EndTime != nil {
			end = *v.EndTime
		}
		end = min(end, to)
		if end <= start {
			continue
		}
		totals[v.PlaceCategory] += end - start
		tracked += end - start
	}

	breakdown := []models.CategoryBreakdown{}
	if tracked == 0 {
		return breakdown, nil
	}
	for category, millis := range totals {
		breakdown = append(breakdown, models.CategoryBreakdown{
			Category:          category,
			TotalMinutes:      millis / time.Minute.Milliseconds(),
			PercentOfInterval: float64(millis) / float64(tracked) * 100,
		})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].TotalMinutes != breakdown[j].TotalMinutes {
			return breakdown[i].TotalMinutes > breakdown[j].TotalMinutes
		}
		return breakdown[i].Category < breakdown[j].Category
	})
	return breakdown, nil
}

// SleepCorrelations counts, for each sleep record in [from, to], the category
// of the last visit that ended before it began
func (s *TimelineService) SleepCorrelations(ctx context.Context, from, to int64) ([]models.SleepCorrelation, error) {
	if to < from {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, from, to)
	}

	records, err := s.sleep.QueryInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	correlations := []models.SleepCorrelation{}
	if len(records) == 0 {
		return correlations, nil
	}

	counts := make(map[string]int)
	for _, rec := range records {
		last, err := s.visits.LastEndingBefore(ctx, rec.StartTime)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		counts[last.PlaceCategory]++
	}

	for category, count := range counts {
		correlations = append(correlations, models.SleepCorrelation{
			Category: category,
			Count:    count,
			Fraction: float64(count) / float64(len(records)),
		})
	}
	sort.Slice(correlations, func(i, j int) bool {
		if correlations[i].Count != correlations[j].Count {
			return correlations[i].Count > correlations[j].Count
		}
		return correlations[i].Category < correlations[j].Category
	})
	return correlations, nil
}

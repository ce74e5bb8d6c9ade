package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
)

type timelineFixture struct {
	svc    *TimelineService
	places *repository.PlaceRepository
	visits *repository.VisitRepository
	sleep  *repository.SleepRepository
}

func newTimelineFixture(t *testing.T) *timelineFixture {
	t.Helper()
	db := newTestDB(t)
	f := &timelineFixture{
		places: repository.NewPlaceRepository(db),
		visits: repository.NewVisitRepository(db),
		sleep:  repository.NewSleepRepository(db),
	}
	f.svc = NewTimelineService(f.visits, f.sleep, time.UTC)
	return f
}

func (f *timelineFixture) place(t *testing.T, category string) int64 {
	t.Helper()
	p := &models.Place{Label: category, Category: category, RadiusMeters: 100}
	require.NoError(t, f.places.Insert(context.Background(), p))
	return p.ID
}

func (f *timelineFixture) visit(t *testing.T, placeID int64, start, end time.Time) {
	t.Helper()
	e := end.UnixMilli()
	require.NoError(t, f.visits.InsertClosed(context.Background(), &models.Visit{
		PlaceID:    placeID,
		StartTime:  start.UnixMilli(),
		EndTime:    &e,
		Confidence: models.ConfidenceStill,
	}))
}

func TestTimeline_Day(t *testing.T) {
	ctx := context.Background()
	f := newTimelineFixture(t)
	home := f.place(t, "home")

	f.visit(t, home, at(9, 22, 0), at(10, 7, 0)) // crosses into the 10th
	f.visit(t, home, at(10, 18, 0), at(10, 19, 0))
	f.visit(t, home, at(11, 8, 0), at(11, 9, 0))

	got, err := f.svc.Day(ctx, at(10, 12, 0))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	from, to := f.svc.DayBounds(at(10, 12, 0))
	assert.Equal(t, at(10, 0, 0).UnixMilli(), from)
	assert.Equal(t, at(11, 0, 0).UnixMilli()-1, to)

	_, err = f.svc.Visits(ctx, 10, 5)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTimeline_CategoryBreakdown(t *testing.T) {
	ctx := context.Background()
	f := newTimelineFixture(t)
	home := f.place(t, "home")
	work := f.place(t, "work")

	f.visit(t, home, at(10, 0, 0), at(10, 8, 0))
	f.visit(t, work, at(10, 9, 0), at(10, 17, 0))
	f.visit(t, home, at(10, 18, 0), at(11, 2, 0)) // clipped at the end of the range

	got, err := f.svc.CategoryBreakdown(ctx, at(10, 0, 0).UnixMilli(), at(11, 0, 0).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "home", got[0].Category)
	assert.Equal(t, int64(14*60), got[0].TotalMinutes)
	assert.InDelta(t, 100*14.0/22.0, got[0].PercentOfInterval, 1e-6)
	assert.Equal(t, "work", got[1].Category)
	assert.Equal(t, int64(8*60), got[1].TotalMinutes)
}

func TestTimeline_CategoryBreakdownOpenVisit(t *testing.T) {
	ctx := context.Background()
	f := newTimelineFixture(t)
	f.svc.now = func() time.Time { return at(10, 12, 0) }
	home := f.place(t, "home")

	_, err := f.visits.Insert(ctx, home, at(10, 10, 0).UnixMilli(), models.ConfidenceStill)
	require.NoError(t, err)

	got, err := f.svc.CategoryBreakdown(ctx, at(10, 0, 0).UnixMilli(), at(11, 0, 0).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(120), got[0].TotalMinutes)
	assert.InDelta(t, 100, got[0].PercentOfInterval, 1e-9)
}

func TestTimeline_SleepCorrelations(t *testing.T) {
	ctx := context.Background()
	f := newTimelineFixture(t)
	gym := f.place(t, "gym")
	bar := f.place(t, "bar")

	f.visit(t, gym, at(10, 18, 0), at(10, 20, 0))
	f.visit(t, gym, at(11, 18, 0), at(11, 20, 0))
	f.visit(t, bar, at(12, 19, 0), at(12, 23, 0))

	require.NoError(t, f.sleep.InsertAll(ctx, []models.SleepRecord{
		{ID: "a", StartTime: at(10, 22, 0).UnixMilli(), EndTime: at(11, 6, 0).UnixMilli(), Source: "test"},
		{ID: "b", StartTime: at(11, 22, 0).UnixMilli(), EndTime: at(12, 6, 0).UnixMilli(), Source: "test"},
		{ID: "c", StartTime: at(12, 23, 30).UnixMilli(), EndTime: at(13, 7, 0).UnixMilli(), Source: "test"},
		{ID: "d", StartTime: at(1, 23, 0).UnixMilli(), EndTime: at(2, 7, 0).UnixMilli(), Source: "test"},
	}))

	got, err := f.svc.SleepCorrelations(ctx, 0, at(31, 0, 0).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.SleepCorrelation{Category: "gym", Count: 2, Fraction: 0.5}, got[0])
	assert.Equal(t, models.SleepCorrelation{Category: "bar", Count: 1, Fraction: 0.25}, got[1])
}

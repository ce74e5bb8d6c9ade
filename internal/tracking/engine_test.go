package tracking

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/config"
	"github.com/jengzang/lifecycle-backend-go/internal/database"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/internal/spatial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var home = models.Coordinate{Latitude: 10, Longitude: 10}

// flakyVisits fails End while failEnd is set
type flakyVisits struct {
	*repository.VisitRepository
	failEnd atomic.Bool
}

func (f *flakyVisits) End(ctx context.Context, id, end int64) error {
	if f.failEnd.Load() {
		return errors.New("disk full")
	}
	return f.VisitRepository.End(ctx, id, end)
}

type recordingFences struct {
	mu         sync.Mutex
	registered [][]models.Place
	cleared    int
}

func (r *recordingFences) Register(_ context.Context, places []models.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, places)
	return nil
}

func (r *recordingFences) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

type fixture struct {
	engine *Engine
	db     *sql.DB
	places *repository.PlaceRepository
	visits *flakyVisits
	sleep  *repository.SleepRepository
	fences *recordingFences
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Sleep.Timezone = "UTC"

	f := &fixture{
		db:     db,
		places: repository.NewPlaceRepository(db),
		visits: &flakyVisits{VisitRepository: repository.NewVisitRepository(db)},
		sleep:  repository.NewSleepRepository(db),
		fences: &recordingFences{},
	}
	sleepSvc, err := service.NewSleepService(f.sleep, cfg.Sleep, zap.NewNop())
	require.NoError(t, err)

	f.engine = NewEngine(Deps{
		Places: service.NewPlaceService(f.places, nil, cfg.Tracking.DefaultRadiusMeters, zap.NewNop()),
		Visits: f.visits,
		Sleep:  sleepSvc,
		Fences: f.fences,
		Logger: zap.NewNop(),
	}, OptionsFromConfig(cfg.Tracking))
	return f
}

func (f *fixture) allVisits(t *testing.T) []models.VisitWithPlace {
	t.Helper()
	v, err := f.visits.QueryInRange(context.Background(), 0, 1<<62)
	require.NoError(t, err)
	return v
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.June, day, hour, minute, 0, 0, time.UTC)
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func still(entering bool, t time.Time) models.ActivityTransition {
	return models.ActivityTransition{Kind: models.ActivityStill, Entering: entering, Time: ms(t)}
}

func move(kind models.ActivityKind, entering bool, t time.Time) models.ActivityTransition {
	return models.ActivityTransition{Kind: kind, Entering: entering, Time: ms(t)}
}

func fix(c models.Coordinate, t time.Time) models.LocationSample {
	return models.LocationSample{Latitude: c.Latitude, Longitude: c.Longitude, Time: ms(t)}
}

func TestEngine_StillEveningYieldsSleep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 22, 0))))
	assert.Equal(t, StateStill, f.engine.Status().State)
	assert.Empty(t, f.allVisits(t), "no visit before a location is known")

	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 22, 1))))
	require.NoError(t, f.engine.HandleActivity(ctx, still(false, at(4, 1, 0))))
	assert.Equal(t, StateIdle, f.engine.Status().State)

	places, err := f.places.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "still:10.0000:10.0000", places[0].Category)

	visits := f.allVisits(t)
	require.Len(t, visits, 1)
	assert.Equal(t, models.ConfidenceStill, visits[0].Confidence)
	assert.Equal(t, ms(at(3, 22, 0)), visits[0].StartTime)
	require.NotNil(t, visits[0].EndTime)
	assert.Equal(t, ms(at(4, 1, 0)), *visits[0].EndTime)

	records, err := f.sleep.QueryInRange(ctx, 0, 1<<62)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.InferredSleepID(ms(at(3, 22, 0)), ms(at(4, 1, 0))), records[0].ID)
}

func TestEngine_StillWithKnownLocationOpensImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 8, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 9, 0))))

	st := f.engine.Status()
	assert.Equal(t, StateStill, st.State)
	assert.NotZero(t, st.VisitID)
	assert.Equal(t, &home, st.LastLocation)
}

func TestEngine_UnpersistedStillIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 9, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, still(false, at(3, 10, 0))))

	assert.Empty(t, f.allVisits(t))
	places, err := f.places.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, places)
}

func TestEngine_TransitionFinalizesPrevious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 8, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 8, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityDriving, true, at(3, 9, 0))))

	visits := f.allVisits(t)
	require.Len(t, visits, 2)
	require.NotNil(t, visits[0].EndTime)
	assert.Equal(t, ms(at(3, 9, 0)), *visits[0].EndTime)
	assert.Nil(t, visits[1].EndTime)
	assert.Equal(t, "movement:driving", visits[1].PlaceCategory)
	assert.Equal(t, models.ConfidenceMovement, visits[1].Confidence)
}

func TestEngine_OutOfOrderStartDoesNotOverlap(t *testing.T) {
	ctx := context.Background()

	t.Run("movement", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 10, 0))))
		require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 10, 0))))
		require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityDriving, true, at(3, 9, 0))))

		visits := f.allVisits(t)
		require.Len(t, visits, 2)
		require.NotNil(t, visits[0].EndTime)
		assert.Equal(t, ms(at(3, 10, 0)), *visits[0].EndTime)
		assert.Equal(t, ms(at(3, 10, 0)), visits[1].StartTime)
		assert.Equal(t, ms(at(3, 10, 0)), f.engine.Status().Since)
	})

	t.Run("geofence", func(t *testing.T) {
		f := newFixture(t)
		office := &models.Place{Label: "Office", Latitude: 11, Longitude: 11, RadiusMeters: 100, Category: "office"}
		require.NoError(t, f.places.Insert(ctx, office))

		require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 10, 0))))
		require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 10, 30))))
		require.NoError(t, f.engine.HandleGeofence(ctx, models.GeofenceEvent{
			PlaceID: office.ID, Transition: models.GeofenceEnter, Time: ms(at(3, 10, 0)),
		}))

		visits := f.allVisits(t)
		require.Len(t, visits, 2)
		require.NotNil(t, visits[0].EndTime)
		assert.LessOrEqual(t, *visits[0].EndTime, visits[1].StartTime)
		assert.Equal(t, ms(at(3, 10, 30)), visits[1].StartTime)
	})

	t.Run("still", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 10, 0))))
		require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityWalking, true, at(3, 10, 0))))
		require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 9, 0))))

		st := f.engine.Status()
		assert.Equal(t, StateStill, st.State)
		assert.Equal(t, ms(at(3, 10, 0)), st.Since)
		require.NotZero(t, st.VisitID)
		for _, v := range f.allVisits(t) {
			if v.ID == st.VisitID {
				assert.Equal(t, ms(at(3, 10, 0)), v.StartTime)
			}
		}
	})
}

// lockCheckingPlaces records whether the engine lock was held during resolution
type lockCheckingPlaces struct {
	*service.PlaceService
	engine   *Engine
	calls    int
	heldLock bool
}

func (p *lockCheckingPlaces) ResolveCoordinate(ctx context.Context, c models.Coordinate) (*models.Place, error) {
	p.calls++
	if p.engine.mu.TryLock() {
		p.engine.mu.Unlock()
	} else {
		p.heldLock = true
	}
	return p.PlaceService.ResolveCoordinate(ctx, c)
}

func TestEngine_ResolvesStillPlaceWithoutLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	places := &lockCheckingPlaces{PlaceService: f.engine.places.(*service.PlaceService), engine: f.engine}
	f.engine.places = places

	// Still begins before the first fix
	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 7, 0))))
	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 7, 5))))
	require.NotZero(t, f.engine.Status().VisitID)

	// Location known when still begins
	require.NoError(t, f.engine.HandleActivity(ctx, still(false, at(3, 8, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 9, 0))))

	assert.Equal(t, 2, places.calls)
	assert.False(t, places.heldLock)
	assert.NotZero(t, f.engine.Status().VisitID)
	assert.Len(t, f.allVisits(t), 2)
}

func TestEngine_IdempotentExits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	gym := &models.Place{Label: "Gym", Latitude: 1, Longitude: 1, RadiusMeters: 80, Category: "gym"}
	require.NoError(t, f.places.Insert(ctx, gym))

	enter := models.GeofenceEvent{PlaceID: gym.ID, Transition: models.GeofenceEnter, Time: ms(at(3, 18, 0))}
	require.NoError(t, f.engine.HandleGeofence(ctx, enter))

	// Dwell on the same place continues the visit
	dwell := models.GeofenceEvent{PlaceID: gym.ID, Transition: models.GeofenceDwell, Time: ms(at(3, 18, 5))}
	require.NoError(t, f.engine.HandleGeofence(ctx, dwell))

	// Exits for another place or an inactive movement kind are ignored
	require.NoError(t, f.engine.HandleGeofence(ctx, models.GeofenceEvent{PlaceID: gym.ID + 100, Transition: models.GeofenceExit, Time: ms(at(3, 18, 30))}))
	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityWalking, false, at(3, 18, 40))))
	assert.Equal(t, StateGeofence, f.engine.Status().State)

	exit := models.GeofenceEvent{PlaceID: gym.ID, Transition: models.GeofenceExit, Time: ms(at(3, 19, 0))}
	require.NoError(t, f.engine.HandleGeofence(ctx, exit))
	exit.Time = ms(at(3, 20, 0))
	require.NoError(t, f.engine.HandleGeofence(ctx, exit))

	visits := f.allVisits(t)
	require.Len(t, visits, 1)
	assert.Equal(t, models.ConfidenceGeofence, visits[0].Confidence)
	assert.Equal(t, ms(at(3, 19, 0)), *visits[0].EndTime)
}

func TestEngine_UnknownGeofencePlace(t *testing.T) {
	f := newFixture(t)

	err := f.engine.HandleGeofence(context.Background(), models.GeofenceEvent{PlaceID: 42, Transition: models.GeofenceEnter, Time: 1})
	assert.ErrorIs(t, err, ErrUnknownPlace)
	assert.Equal(t, StateIdle, f.engine.Status().State)
}

func TestEngine_ShortFootTripBoundary(t *testing.T) {
	tests := []struct {
		name       string
		duration   time.Duration
		reclassify bool
	}{
		{"14m59s becomes a stay", 14*time.Minute + 59*time.Second, true},
		{"15m01s stays a trip", 15*time.Minute + time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			start := at(3, 12, 0)

			require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityWalking, true, start)))
			require.NoError(t, f.engine.HandleLocation(ctx, fix(home, start.Add(time.Minute))))
			require.NoError(t, f.engine.HandleLocation(ctx, fix(spatial.OffsetMeters(home, 600, 0), start.Add(5*time.Minute))))
			require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityWalking, false, start.Add(tt.duration))))

			visits := f.allVisits(t)
			require.Len(t, visits, 1)
			if tt.reclassify {
				assert.Equal(t, models.ConfidenceReclassified, visits[0].Confidence)
				assert.Equal(t, "still:10.0054:10.0000", visits[0].PlaceCategory)
			} else {
				assert.Equal(t, models.ConfidenceMovement, visits[0].Confidence)
				assert.Equal(t, "movement:walking", visits[0].PlaceCategory)
			}
			assert.Equal(t, ms(start), visits[0].StartTime)
			assert.Equal(t, ms(start.Add(tt.duration)), *visits[0].EndTime)
		})
	}
}

func TestEngine_StayedNearbyBoundary(t *testing.T) {
	tests := []struct {
		name       string
		extent     float64
		reclassify bool
	}{
		{"99.9m becomes a stay", 99.9, true},
		{"100.1m stays a trip", 100.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			start := at(3, 12, 0)

			require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityDriving, true, start)))
			require.NoError(t, f.engine.HandleLocation(ctx, fix(home, start.Add(time.Minute))))
			require.NoError(t, f.engine.HandleLocation(ctx, fix(spatial.OffsetMeters(home, tt.extent, 0), start.Add(20*time.Minute))))
			require.NoError(t, f.engine.HandleLocation(ctx, fix(home, start.Add(40*time.Minute))))
			require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityDriving, false, start.Add(time.Hour))))

			visits := f.allVisits(t)
			require.Len(t, visits, 1)
			if tt.reclassify {
				assert.Equal(t, models.ConfidenceReclassified, visits[0].Confidence)
			} else {
				assert.Equal(t, models.ConfidenceMovement, visits[0].Confidence)
			}
		})
	}
}

func TestEngine_ReclassifiedStayFeedsSleep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// The classifier reports driving all night but the phone never moved
	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityDriving, true, at(3, 23, 0))))
	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(4, 2, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityDriving, false, at(4, 6, 30))))

	records, err := f.sleep.QueryInRange(ctx, 0, 1<<62)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEngine_MovementWithoutAnchorIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityRunning, true, at(3, 7, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityRunning, false, at(3, 7, 5))))

	visits := f.allVisits(t)
	require.Len(t, visits, 1)
	assert.Equal(t, models.ConfidenceMovement, visits[0].Confidence)
}

func TestEngine_FinalizeFailureRetainsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 8, 0))))
	require.NoError(t, f.engine.HandleActivity(ctx, still(true, at(3, 8, 0))))
	visitID := f.engine.Status().VisitID

	f.visits.failEnd.Store(true)
	assert.Error(t, f.engine.HandleActivity(ctx, still(false, at(3, 9, 0))))
	assert.Error(t, f.engine.HandleActivity(ctx, move(models.ActivityCycling, true, at(3, 9, 0))))

	st := f.engine.Status()
	assert.Equal(t, StateStill, st.State)
	assert.Equal(t, visitID, st.VisitID)

	f.visits.failEnd.Store(false)
	require.NoError(t, f.engine.HandleActivity(ctx, still(false, at(3, 9, 30))))
	assert.Equal(t, StateIdle, f.engine.Status().State)

	visits := f.allVisits(t)
	require.Len(t, visits, 1)
	assert.Equal(t, ms(at(3, 9, 30)), *visits[0].EndTime)
}

func TestEngine_SampleAccuracyFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.opts.MaxSampleAccuracy = 50

	sample := fix(home, at(3, 8, 0))
	sample.Accuracy = 400
	require.NoError(t, f.engine.HandleLocation(ctx, sample))
	assert.Nil(t, f.engine.Status().LastLocation)

	sample.Accuracy = 20
	require.NoError(t, f.engine.HandleLocation(ctx, sample))
	assert.NotNil(t, f.engine.Status().LastLocation)
}

func TestEngine_StartRecoversOpenVisits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := at(5, 12, 0)
	f.engine.now = func() time.Time { return now }

	p := &models.Place{Label: "Home", Latitude: 10, Longitude: 10, RadiusMeters: 100, Category: "home"}
	require.NoError(t, f.places.Insert(ctx, p))

	stale, err := f.visits.Insert(ctx, p.ID, ms(now.Add(-20*time.Hour)), models.ConfidenceStill)
	require.NoError(t, err)
	recent, err := f.visits.Insert(ctx, p.ID, ms(now.Add(-time.Hour)), models.ConfidenceStill)
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(ctx))

	got, err := f.visits.GetByID(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, ms(now.Add(-8*time.Hour)), *got.EndTime)

	got, err = f.visits.GetByID(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, ms(now), *got.EndTime)

	open, err := f.visits.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)

	require.Len(t, f.fences.registered, 1)
	assert.Len(t, f.fences.registered[0], 1)
}

func TestEngine_ShutdownFlushes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := at(3, 11, 0)
	f.engine.now = func() time.Time { return now }

	require.NoError(t, f.engine.HandleActivity(ctx, move(models.ActivityCycling, true, at(3, 10, 0))))
	require.NoError(t, f.engine.HandleLocation(ctx, fix(home, at(3, 10, 1))))
	require.NoError(t, f.engine.HandleLocation(ctx, fix(spatial.OffsetMeters(home, 0, 3000), at(3, 10, 30))))

	summary, err := f.engine.Shutdown(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, models.SessionMovement, summary.Type)
	assert.Equal(t, ms(now), summary.EndTime)
	assert.Equal(t, StateIdle, f.engine.Status().State)
	assert.Equal(t, 1, f.fences.cleared)

	summary, err = f.engine.Shutdown(ctx)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestEngine_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	gym := &models.Place{Label: "Gym", Latitude: 10, Longitude: 10, RadiusMeters: 80, Category: "gym"}
	require.NoError(t, f.places.Insert(ctx, gym))

	var clock atomic.Int64
	clock.Store(ms(at(3, 0, 0)))
	tick := func() time.Time { return time.UnixMilli(clock.Add(60_000)).UTC() }

	kinds := []models.ActivityKind{models.ActivityWalking, models.ActivityDriving, models.ActivityCycling}
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				var err error
				switch (w + i) % 6 {
				case 0:
					err = f.engine.HandleActivity(ctx, still(true, tick()))
				case 1:
					err = f.engine.HandleLocation(ctx, fix(spatial.OffsetMeters(home, float64(i*40), 0), tick()))
				case 2:
					err = f.engine.HandleActivity(ctx, move(kinds[i%3], true, tick()))
				case 3:
					err = f.engine.HandleActivity(ctx, move(kinds[i%3], false, tick()))
				case 4:
					err = f.engine.HandleGeofence(ctx, models.GeofenceEvent{PlaceID: gym.ID, Transition: models.GeofenceEnter, Time: ms(tick())})
				case 5:
					err = f.engine.HandleGeofence(ctx, models.GeofenceEvent{PlaceID: gym.ID, Transition: models.GeofenceExit, Time: ms(tick())})
				}
				assert.NoError(t, err)

				open, err := f.visits.CountOpen(ctx)
				assert.NoError(t, err)
				assert.LessOrEqual(t, open, 1)
			}
		}(w)
	}
	wg.Wait()

	_, err := f.engine.Shutdown(ctx)
	require.NoError(t, err)

	open, err := f.visits.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)
}

// Package tracking reconciles location fixes, motion transitions and
// geofence events into a single active session and writes the resulting
// visits.
package tracking

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
)

// ErrUnknownPlace is returned for geofence events naming a place that does not exist
var ErrUnknownPlace = errors.New("unknown place")

// PlaceResolver maps coordinates, activities and ids to places
type PlaceResolver interface {
	ResolveCoordinate(ctx context.Context, c models.Coordinate) (*models.Place, error)
	ResolveActivity(ctx context.Context, kind models.ActivityKind) (*models.Place, error)
	GetByID(ctx context.Context, id int64) (*models.Place, error)
	List(ctx context.Context) ([]models.Place, error)
}

// VisitStore is the visit log the engine writes to
type VisitStore interface {
	Insert(ctx context.Context, placeID, start int64, confidence int) (int64, error)
	InsertClosed(ctx context.Context, visit *models.Visit) error
	End(ctx context.Context, id, end int64) error
	Replace(ctx context.Context, oldID int64, replacement *models.Visit) error
	GetOpen(ctx context.Context) ([]models.VisitWithPlace, error)
}

// SleepSink receives every finalized still-like visit
type SleepSink interface {
	OnVisitFinalized(ctx context.Context, summary models.VisitSummary) (*models.SleepRecord, error)
}

// GeofenceRegistrar installs and removes place regions with the geofence provider
type GeofenceRegistrar interface {
	Register(ctx context.Context, places []models.Place) error
	Clear(ctx context.Context) error
}

// GeofenceMonitor derives geofence events from location samples
type GeofenceMonitor interface {
	Evaluate(sample models.LocationSample) []models.GeofenceEvent
}

// Deps are the engine collaborators. Sleep, Fences and Monitor may be nil.
type Deps struct {
	Places  PlaceResolver
	Visits  VisitStore
	Sleep   SleepSink
	Fences  GeofenceRegistrar
	Monitor GeofenceMonitor
	Logger  *zap.Logger
}

// Options are the engine thresholds
type Options struct {
	FootTripDuration  time.Duration
	NearbyRadius      float64 // Meters
	MaxSampleAccuracy float64 // Meters, 0 accepts every fix
	RecoveryCap       time.Duration
}

// OptionsFromConfig builds engine options from the tracking config section
func OptionsFromConfig(cfg config.TrackingConfig) Options {
	return Options{
		FootTripDuration:  cfg.FootTripDuration(),
		NearbyRadius:      cfg.NearbyRadiusMeters,
		MaxSampleAccuracy: cfg.MaxSampleAccuracy,
		RecoveryCap:       cfg.RecoveryCap(),
	}
}

// Engine is the session state machine. Every input is handled under one
// mutex, so finalizing the previous session and opening the next one is a
// single step as seen by other inputs.
type Engine struct {
	places       PlaceResolver
	visits       VisitStore
	sleep        SleepSink
	fences       GeofenceRegistrar
	monitor      GeofenceMonitor
	reclassifier *Reclassifier
	opts         Options
	logger       *zap.Logger
	now          func() time.Time

	mu           sync.Mutex
	session      Session
	lastLocation *models.Coordinate
}

// finalization is what finalizeLocked hands to the post-unlock steps
type finalization struct {
	summary  models.VisitSummary
	movement *MovementSnapshot
}

// NewEngine creates an idle engine
func NewEngine(deps Deps, opts Options) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tracking")

	return &Engine{
		places:       deps.Places,
		visits:       deps.Visits,
		sleep:        deps.Sleep,
		fences:       deps.Fences,
		monitor:      deps.Monitor,
		reclassifier: NewReclassifier(deps.Places, deps.Visits, opts.FootTripDuration, opts.NearbyRadius, logger),
		opts:         opts,
		logger:       logger,
		now:          time.Now,
	}
}

// Start closes visits left open by an unclean stop and registers geofences
// for every known place. A recovered visit ends at now, or at its start plus
// the recovery cap if that is earlier.
func (e *Engine) Start(ctx context.Context) error {
	open, err := e.visits.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open visits: %w", err)
	}

	e.mu.Lock()
	active := statusOf(e.session).VisitID
	now := e.now().UnixMilli()
	for _, v := range open {
		if v.ID == active {
			continue
		}
		end := min(now, v.StartTime+e.opts.RecoveryCap.Milliseconds())
		if end < v.StartTime {
			end = v.StartTime
		}
		if err := e.visits.End(ctx, v.ID, end); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to recover visit %d: %w", v.ID, err)
		}
		e.logger.Warn("Recovered open visit",
			zap.Int64("visit_id", v.ID),
			zap.String("category", v.PlaceCategory),
			zap.Int64("end", end),
		)
	}
	e.mu.Unlock()

	if e.fences == nil {
		return nil
	}
	places, err := e.places.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load places: %w", err)
	}
	if err := e.fences.Register(ctx, places); err != nil {
		return fmt.Errorf("failed to register geofences: %w", err)
	}
	return nil
}

// Shutdown finalizes the active session at now and clears the geofences.
// It returns the summary of the flushed visit, if any.
func (e *Engine) Shutdown(ctx context.Context) (*models.VisitSummary, error) {
	summary, err := e.Flush(ctx, e.now().UnixMilli())

	if e.fences != nil {
		if cerr := e.fences.Clear(ctx); cerr != nil {
			e.logger.Warn("Failed to clear geofences", zap.Error(cerr))
		}
	}

	e.logger.Info("Tracking stopped")
	return summary, err
}

// Flush finalizes the active session at the given time and leaves the engine idle
func (e *Engine) Flush(ctx context.Context, at int64) (*models.VisitSummary, error) {
	e.mu.Lock()
	f, err := e.finalizeLocked(ctx, at)
	e.mu.Unlock()

	return e.complete(ctx, f), err
}

// Status reports the active session
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := statusOf(e.session)
	st.LastLocation = copyCoordinate(e.lastLocation)
	return st
}

// HandleLocation processes a location fix
func (e *Engine) HandleLocation(ctx context.Context, sample models.LocationSample) error {
	if e.opts.MaxSampleAccuracy > 0 && sample.Accuracy > e.opts.MaxSampleAccuracy {
		e.logger.Debug("Dropping inaccurate sample", zap.Float64("accuracy", sample.Accuracy))
		return nil
	}

	if err := e.applyLocation(ctx, sample); err != nil {
		return err
	}

	if e.monitor == nil {
		return nil
	}
	for _, ev := range e.monitor.Evaluate(sample) {
		if err := e.HandleGeofence(ctx, ev); err != nil {
			e.logger.Warn("Failed to apply derived geofence event",
				zap.Int64("place_id", ev.PlaceID),
				zap.String("transition", string(ev.Transition)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) applyLocation(ctx context.Context, sample models.LocationSample) error {
	c := sample.Coordinate()

	e.mu.Lock()
	e.lastLocation = &c
	var pending *StillSession
	switch s := e.session.(type) {
	case *StillSession:
		s.Anchor = copyCoordinate(&c)
		if !s.persisted() {
			pending = s
		}
	case *MovementSession:
		s.add(c)
	case *GeofenceSession:
		s.Anchor = copyCoordinate(&c)
	}
	e.mu.Unlock()

	if pending == nil {
		return nil
	}
	place, err := e.resolveStill(ctx, c)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != pending || pending.persisted() {
		// Replaced or persisted by another input while resolving
		return nil
	}
	return e.persistStillLocked(ctx, pending, place)
}

// HandleActivity processes a motion classifier transition
func (e *Engine) HandleActivity(ctx context.Context, t models.ActivityTransition) error {
	switch {
	case t.Kind == models.ActivityStill && t.Entering:
		return e.startStill(ctx, t.Time)
	case t.Kind == models.ActivityStill:
		return e.finalizeIf(ctx, t.Time, func(Session) bool { return true })
	case !t.Kind.IsMovement():
		return fmt.Errorf("unsupported activity kind: %q", t.Kind)
	case t.Entering:
		return e.startMovement(ctx, t.Kind, t.Time)
	default:
		return e.finalizeIf(ctx, t.Time, func(s Session) bool {
			m, ok := s.(*MovementSession)
			return ok && m.Kind == t.Kind
		})
	}
}

// HandleGeofence processes a geofence transition
func (e *Engine) HandleGeofence(ctx context.Context, ev models.GeofenceEvent) error {
	switch ev.Transition {
	case models.GeofenceEnter, models.GeofenceDwell:
		return e.startGeofence(ctx, ev.PlaceID, ev.Time)
	case models.GeofenceExit:
		return e.finalizeIf(ctx, ev.Time, func(s Session) bool {
			g, ok := s.(*GeofenceSession)
			return ok && g.PlaceID == ev.PlaceID
		})
	}
	return fmt.Errorf("unsupported geofence transition: %q", ev.Transition)
}

func (e *Engine) startStill(ctx context.Context, at int64) error {
	e.mu.Lock()
	anchor := copyCoordinate(e.lastLocation)
	e.mu.Unlock()

	var place *models.Place
	var resolveErr error
	if anchor != nil {
		place, resolveErr = e.resolveStill(ctx, *anchor)
	}

	e.mu.Lock()
	f, err := e.finalizeLocked(ctx, at)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	s := &StillSession{Start: startAfter(f, at), Anchor: anchor}
	e.session = s
	if place != nil {
		err = e.persistStillLocked(ctx, s, place)
	} else {
		// The session stays unpersisted and the next fix retries
		err = resolveErr
	}
	e.mu.Unlock()

	e.complete(ctx, f)
	return err
}

func (e *Engine) startMovement(ctx context.Context, kind models.ActivityKind, at int64) error {
	place, err := e.places.ResolveActivity(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to resolve %s place: %w", kind, err)
	}

	e.mu.Lock()
	f, err := e.finalizeLocked(ctx, at)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	s := &MovementSession{Start: startAfter(f, at), Kind: kind, PlaceID: place.ID, Category: place.Category}
	e.session = s
	s.VisitID, err = e.visits.Insert(ctx, place.ID, s.Start, models.ConfidenceMovement)
	if err != nil {
		err = fmt.Errorf("failed to open movement visit: %w", err)
	} else {
		e.logger.Debug("Movement session started", zap.String("kind", string(kind)), zap.Int64("visit_id", s.VisitID))
	}
	e.mu.Unlock()

	e.complete(ctx, f)
	return err
}

func (e *Engine) startGeofence(ctx context.Context, placeID, at int64) error {
	place, err := e.places.GetByID(ctx, placeID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrUnknownPlace, placeID)
	}
	if err != nil {
		return fmt.Errorf("failed to load place %d: %w", placeID, err)
	}

	e.mu.Lock()
	if g, ok := e.session.(*GeofenceSession); ok && g.PlaceID == placeID {
		// Dwell after enter, or a repeated enter, continues the same visit
		e.mu.Unlock()
		return nil
	}

	f, err := e.finalizeLocked(ctx, at)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	start := startAfter(f, at)
	id, err := e.visits.Insert(ctx, place.ID, start, models.ConfidenceGeofence)
	if err != nil {
		err = fmt.Errorf("failed to open geofence visit: %w", err)
	} else {
		e.session = &GeofenceSession{
			Start:    start,
			PlaceID:  place.ID,
			VisitID:  id,
			Category: place.Category,
			Anchor:   copyCoordinate(e.lastLocation),
		}
		e.logger.Debug("Geofence session started", zap.Int64("place_id", place.ID), zap.Int64("visit_id", id))
	}
	e.mu.Unlock()

	e.complete(ctx, f)
	return err
}

func (e *Engine) finalizeIf(ctx context.Context, at int64, match func(Session) bool) error {
	e.mu.Lock()
	if e.session == nil || !match(e.session) {
		e.mu.Unlock()
		return nil
	}
	f, err := e.finalizeLocked(ctx, at)
	e.mu.Unlock()

	e.complete(ctx, f)
	return err
}

func (e *Engine) resolveStill(ctx context.Context, c models.Coordinate) (*models.Place, error) {
	place, err := e.places.ResolveCoordinate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve place: %w", err)
	}
	return place, nil
}

// persistStillLocked opens the visit of a still session at an already
// resolved place. Callers must hold e.mu.
func (e *Engine) persistStillLocked(ctx context.Context, s *StillSession, place *models.Place) error {
	id, err := e.visits.Insert(ctx, place.ID, s.Start, models.ConfidenceStill)
	if err != nil {
		return fmt.Errorf("failed to open still visit: %w", err)
	}

	s.VisitID = id
	s.PlaceID = place.ID
	s.Category = place.Category
	e.logger.Debug("Still session persisted", zap.Int64("place_id", place.ID), zap.Int64("visit_id", id))
	return nil
}

// startAfter keeps a session from starting before the visit it replaced ended
func startAfter(f *finalization, at int64) int64 {
	if f != nil && f.summary.EndTime > at {
		return f.summary.EndTime
	}
	return at
}

// finalizeLocked ends the active session at end. The session is cleared only
// once its visit is closed in the store; on a write error it is kept so a
// later input can retry. Callers must hold e.mu.
func (e *Engine) finalizeLocked(ctx context.Context, end int64) (*finalization, error) {
	switch s := e.session.(type) {
	case *StillSession:
		if !s.persisted() {
			e.session = nil
			return nil, nil
		}
		return e.closeLocked(ctx, models.VisitSummary{
			VisitID:    s.VisitID,
			PlaceID:    s.PlaceID,
			Category:   s.Category,
			Type:       models.SessionStill,
			StartTime:  s.Start,
			EndTime:    end,
			Confidence: models.ConfidenceStill,
			Anchor:     copyCoordinate(s.Anchor),
		}, nil)

	case *GeofenceSession:
		return e.closeLocked(ctx, models.VisitSummary{
			VisitID:    s.VisitID,
			PlaceID:    s.PlaceID,
			Category:   s.Category,
			Type:       models.SessionGeofence,
			StartTime:  s.Start,
			EndTime:    end,
			Confidence: models.ConfidenceGeofence,
			Anchor:     copyCoordinate(s.Anchor),
		}, nil)

	case *MovementSession:
		snap := &MovementSnapshot{
			Kind:        s.Kind,
			Start:       s.Start,
			Samples:     append([]models.Coordinate(nil), s.Samples...),
			MaxDistance: s.MaxDistance,
			Fallback:    copyCoordinate(e.lastLocation),
		}
		return e.closeLocked(ctx, models.VisitSummary{
			VisitID:    s.VisitID,
			PlaceID:    s.PlaceID,
			Category:   s.Category,
			Type:       models.SessionMovement,
			StartTime:  s.Start,
			EndTime:    end,
			Confidence: models.ConfidenceMovement,
		}, snap)
	}
	return nil, nil
}

func (e *Engine) closeLocked(ctx context.Context, summary models.VisitSummary, snap *MovementSnapshot) (*finalization, error) {
	if summary.EndTime < summary.StartTime {
		summary.EndTime = summary.StartTime
	}

	if summary.VisitID != 0 {
		err := e.visits.End(ctx, summary.VisitID, summary.EndTime)
		switch {
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrVisitClosed):
			// Deleted with its place, or already closed elsewhere
			e.logger.Warn("Active visit is gone", zap.Int64("visit_id", summary.VisitID), zap.Error(err))
			e.session = nil
			return nil, nil
		case err != nil:
			e.logger.Error("Failed to finalize session",
				zap.String("type", string(summary.Type)),
				zap.Int64("visit_id", summary.VisitID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to finalize %s session: %w", summary.Type, err)
		}
	}

	e.session = nil
	e.logger.Info("Session finalized",
		zap.String("type", string(summary.Type)),
		zap.Int64("visit_id", summary.VisitID),
		zap.Int64("place_id", summary.PlaceID),
		zap.Duration("duration", time.Duration(summary.DurationMillis())*time.Millisecond),
	)
	return &finalization{summary: summary, movement: snap}, nil
}

// complete runs reclassification and sleep inference for a finalized
// session. It runs without the session lock.
func (e *Engine) complete(ctx context.Context, f *finalization) *models.VisitSummary {
	if f == nil {
		return nil
	}

	summary := &f.summary
	if f.movement != nil {
		out, err := e.reclassifier.Apply(ctx, f.summary, *f.movement)
		if err != nil {
			e.logger.Warn("Reclassification failed", zap.Int64("visit_id", f.summary.VisitID), zap.Error(err))
		}
		summary = out
	}
	if summary == nil {
		return nil
	}

	if e.sleep != nil && summary.Type.IsStillLike() {
		if _, err := e.sleep.OnVisitFinalized(ctx, *summary); err != nil {
			e.logger.Warn("Sleep inference failed", zap.Int64("visit_id", summary.VisitID), zap.Error(err))
		}
	}
	return summary
}

package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
	"github.com/jengzang/lifecycle-backend-go/internal/spatial"
)

// ErrInvalidPlace is returned when a user-defined place fails validation
var ErrInvalidPlace = errors.New("invalid place")

// GeofenceRegistrar receives the full set of places whenever it changes
type GeofenceRegistrar interface {
	Register(ctx context.Context, places []models.Place) error
}

// PlaceService resolves coordinates and activities to places and manages user places
type PlaceService struct {
	repo          *repository.PlaceRepository
	fences        GeofenceRegistrar
	defaultRadius float64
	logger        *zap.Logger

	// mu serializes lookup-then-synthesize so concurrent resolutions of the
	// same unknown spot create a single place
	mu sync.Mutex
}

// NewPlaceService creates a new place service. fences may be nil.
func NewPlaceService(repo *repository.PlaceRepository, fences GeofenceRegistrar, defaultRadius float64, logger *zap.Logger) *PlaceService {
	return &PlaceService{
		repo:          repo,
		fences:        fences,
		defaultRadius: defaultRadius,
		logger:        logger.Named("places"),
	}
}

// ResolveCoordinate returns the first registered place whose circle contains c,
// in registration order. When none does, a place centered on c is synthesized
// and persisted before it is returned.
func (s *PlaceService) ResolveCoordinate(ctx context.Context, c models.Coordinate) (*models.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	places, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load places: %w", err)
	}
	for i := range places {
		p := places[i]
		if p.IsGeographic() && spatial.Within(p.Center(), p.RadiusMeters, c) {
			return &p, nil
		}
	}

	category := models.CategoryPrefixStill + spatial.RoundedKey(c, 4)
	place := &models.Place{
		Label:        fmt.Sprintf("Stay near %.3f, %.3f", c.Latitude, c.Longitude),
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		RadiusMeters: s.defaultRadius,
		Category:     category,
		ColorARGB:    ColorForKey(category),
	}
	if err := s.repo.Insert(ctx, place); err != nil {
		return nil, fmt.Errorf("failed to synthesize place: %w", err)
	}

	s.logger.Info("Synthesized place",
		zap.Int64("place_id", place.ID),
		zap.String("category", place.Category),
	)
	return place, nil
}

// ResolveActivity returns the non-geographic place for a movement kind, creating it on first use
func (s *PlaceService) ResolveActivity(ctx context.Context, kind models.ActivityKind) (*models.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category := kind.MovementCategory()
	place, err := s.repo.GetByCategory(ctx, category)
	if err == nil {
		return place, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	place = &models.Place{
		Label:     "Trip • " + titleCase(string(kind)),
		Category:  category,
		ColorARGB: ColorForKey(category),
	}
	if err := s.repo.Insert(ctx, place); err != nil {
		return nil, fmt.Errorf("failed to create activity place: %w", err)
	}

	s.logger.Info("Created activity place",
		zap.Int64("place_id", place.ID),
		zap.String("category", place.Category),
	)
	return place, nil
}

// GetByID retrieves a place by ID
func (s *PlaceService) GetByID(ctx context.Context, id int64) (*models.Place, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all places in registration order
func (s *PlaceService) List(ctx context.Context) ([]models.Place, error) {
	return s.repo.GetAll(ctx)
}

// Create registers a user-defined place and refreshes the geofences
func (s *PlaceService) Create(ctx context.Context, req models.CreatePlaceRequest) (*models.Place, error) {
	label := strings.TrimSpace(req.Label)
	category := strings.TrimSpace(req.Category)
	switch {
	case label == "":
		return nil, fmt.Errorf("%w: label is required", ErrInvalidPlace)
	case category == "":
		return nil, fmt.Errorf("%w: category is required", ErrInvalidPlace)
	case models.IsMovementCategory(category):
		return nil, fmt.Errorf("%w: category prefix %q is reserved", ErrInvalidPlace, models.CategoryPrefixMovement)
	case req.RadiusMeters <= 0:
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidPlace)
	case req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180:
		return nil, fmt.Errorf("%w: coordinate out of range", ErrInvalidPlace)
	}

	place := &models.Place{
		Label:        label,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
		Category:     category,
		ColorARGB:    ColorForKey(category),
	}

	s.mu.Lock()
	err := s.repo.Insert(ctx, place)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.syncGeofences(ctx)
	return place, nil
}

// Delete removes a place and its visits, then refreshes the geofences
func (s *PlaceService) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	err := s.repo.Delete(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("Deleted place", zap.Int64("place_id", id))
	s.syncGeofences(ctx)
	return nil
}

func (s *PlaceService) syncGeofences(ctx context.Context) {
	if s.fences == nil {
		return
	}
	places, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Warn("Failed to load places for geofences", zap.Error(err))
		return
	}
	if err := s.fences.Register(ctx, places); err != nil {
		s.logger.Warn("Failed to register geofences", zap.Error(err))
	}
}

// ColorForKey derives a stable, mid-tone opaque ARGB color from a category key
func ColorForKey(key string) int64 {
	h := fnv.New32a()
	h.Write([]byte(key))
	hash := int64(h.Sum32() & 0x7FFFFFFF)

	r := 0x40 + (hash & 0x3F)
	g := 0x40 + ((hash >> 6) & 0x3F)
	b := 0x40 + ((hash >> 12) & 0x3F)
	return 0xFF<<24 | r<<16 | g<<8 | b
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Package geofence keeps the set of monitored place regions and, for hosts
// without platform geofencing, derives enter/exit events from location fixes.
package geofence

import (
	"context"
	"sync"

	"github.com/golang/geo/s2"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/spatial"
)

// Region is a monitored circle around a place
type Region struct {
	PlaceID      int64             `json:"placeId"`
	Label        string            `json:"label"`
	Center       models.Coordinate `json:"center"`
	RadiusMeters float64           `json:"radiusMeters"`

	cap s2.Cap
}

// Registry holds the registered regions in place registration order
type Registry struct {
	mu      sync.Mutex
	regions []Region
	current int64 // Place whose region contained the last evaluated fix, 0 for none
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger.Named("geofence")}
}

// Register replaces the monitored regions with those of the geographic places
func (r *Registry) Register(_ context.Context, places []models.Place) error {
	regions := make([]Region, 0, len(places))
	for i := range places {
		p := &places[i]
		if !p.IsGeographic() {
			continue
		}
		regions = append(regions, Region{
			PlaceID:      p.ID,
			Label:        p.Label,
			Center:       p.Center(),
			RadiusMeters: p.RadiusMeters,
			cap:          spatial.Cap(p.Center(), p.RadiusMeters),
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.regions = regions
	if r.current != 0 && r.indexOf(r.current) < 0 {
		r.current = 0
	}
	r.logger.Info("Registered geofences", zap.Int("regions", len(regions)))
	return nil
}

// Clear removes every region
func (r *Registry) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.regions = nil
	r.current = 0
	r.logger.Info("Cleared geofences")
	return nil
}

// Regions returns a copy of the registered regions
func (r *Registry) Regions() []Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Region, len(r.regions))
	copy(out, r.regions)
	return out
}

// Evaluate tracks which region contains the fix and returns the transitions
// since the previous fix: an exit from the old region before an enter into
// the new one. When regions overlap, the first registered one wins.
func (r *Registry) Evaluate(sample models.LocationSample) []models.GeofenceEvent {
	pt := s2.PointFromLatLng(s2.LatLngFromDegrees(sample.Latitude, sample.Longitude))

	r.mu.Lock()
	defer r.mu.Unlock()

	var next int64
	for i := range r.regions {
		if r.regions[i].cap.ContainsPoint(pt) {
			next = r.regions[i].PlaceID
			break
		}
	}
	if next == r.current {
		return nil
	}

	var events []models.GeofenceEvent
	if r.current != 0 {
		events = append(events, models.GeofenceEvent{PlaceID: r.current, Transition: models.GeofenceExit, Time: sample.Time})
	}
	if next != 0 {
		events = append(events, models.GeofenceEvent{PlaceID: next, Transition: models.GeofenceEnter, Time: sample.Time})
	}
	r.current = next
	return events
}

func (r *Registry) indexOf(placeID int64) int {
	for i := range r.regions {
		if r.regions[i].PlaceID == placeID {
			return i
		}
	}
	return -1
}

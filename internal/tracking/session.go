package tracking

import (
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/spatial"
)

// State names the kind of session the engine currently holds
type State string

const (
	StateIdle     State = "idle"
	StateStill    State = "still"
	StateMovement State = "movement"
	StateGeofence State = "geofence"
)

// Session is one of *StillSession, *MovementSession or *GeofenceSession
type Session interface {
	state() State
}

// StillSession is a stay detected by the motion classifier. It is persisted
// lazily: VisitID stays 0 until a location is known to resolve a place.
type StillSession struct {
	Start    int64
	VisitID  int64
	PlaceID  int64
	Category string
	Anchor   *models.Coordinate
}

func (*StillSession) state() State { return StateStill }

func (s *StillSession) persisted() bool { return s.VisitID != 0 }

// MovementSession is a trip of a single activity kind
type MovementSession struct {
	Start       int64
	Kind        models.ActivityKind
	VisitID     int64 // 0 when the opening write failed
	PlaceID     int64
	Category    string
	Samples     []models.Coordinate
	MaxDistance float64 // Meters from the first sample
	PathLength  float64 // Meters
}

func (*MovementSession) state() State { return StateMovement }

func (s *MovementSession) add(c models.Coordinate) {
	if n := len(s.Samples); n > 0 {
		s.PathLength += spatial.DistanceMeters(s.Samples[n-1], c)
		if d := spatial.DistanceMeters(s.Samples[0], c); d > s.MaxDistance {
			s.MaxDistance = d
		}
	}
	s.Samples = append(s.Samples, c)
}

// GeofenceSession is a stay inside a registered place region
type GeofenceSession struct {
	Start    int64
	PlaceID  int64
	VisitID  int64
	Category string
	Anchor   *models.Coordinate
}

func (*GeofenceSession) state() State { return StateGeofence }

// MovementSnapshot is the part of a finished movement session the
// reclassifier needs after the session lock is released
type MovementSnapshot struct {
	Kind        models.ActivityKind
	Start       int64
	Samples     []models.Coordinate
	MaxDistance float64
	Fallback    *models.Coordinate // Last known location when the session ended
}

// Anchor picks the coordinate a reclassified stay is placed at: the last
// sample, else the first, else the fallback
func (s MovementSnapshot) Anchor() *models.Coordinate {
	if n := len(s.Samples); n > 0 {
		c := s.Samples[n-1]
		return &c
	}
	if s.Fallback != nil {
		c := *s.Fallback
		return &c
	}
	return nil
}

// Status is a point-in-time view of the engine
type Status struct {
	State        State               `json:"state"`
	Since        int64               `json:"since,omitempty"`
	Kind         models.ActivityKind `json:"kind,omitempty"`
	PlaceID      int64               `json:"placeId,omitempty"`
	VisitID      int64               `json:"visitId,omitempty"`
	Samples      int                 `json:"samples,omitempty"`
	LastLocation *models.Coordinate  `json:"lastLocation,omitempty"`
}

func statusOf(s Session) Status {
	switch s := s.(type) {
	case *StillSession:
		return Status{State: StateStill, Since: s.Start, PlaceID: s.PlaceID, VisitID: s.VisitID}
	case *MovementSession:
		return Status{State: StateMovement, Since: s.Start, Kind: s.Kind, PlaceID: s.PlaceID, VisitID: s.VisitID, Samples: len(s.Samples)}
	case *GeofenceSession:
		return Status{State: StateGeofence, Since: s.Start, PlaceID: s.PlaceID, VisitID: s.VisitID}
	}
	return Status{State: StateIdle}
}

func copyCoordinate(c *models.Coordinate) *models.Coordinate {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

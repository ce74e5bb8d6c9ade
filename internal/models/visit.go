package models

// Visit represents a persisted interval spent at a place
type Visit struct {
	ID         int64  `json:"id" db:"id"`
	PlaceID    int64  `json:"placeId" db:"place_id"`
	StartTime  int64  `json:"startTime" db:"start_time"`       // Epoch millis
	EndTime    *int64 `json:"endTime,omitempty" db:"end_time"` // Epoch millis, nil while the visit is open
	Confidence int    `json:"confidence" db:"confidence"`      // 0-100
}

// Confidence scores assigned by the session engine
const (
	ConfidenceGeofence     = 100
	ConfidenceStill        = 95
	ConfidenceReclassified = 85
	ConfidenceMovement     = 80
)

// VisitWithPlace is a visit joined with the fields of its owning place
type VisitWithPlace struct {
	Visit
	PlaceLabel    string `json:"placeLabel" db:"place_label"`
	PlaceCategory string `json:"placeCategory" db:"place_category"`
	PlaceColor    int64  `json:"placeColor" db:"place_color"`
}

// DurationMillis returns the visit length, treating an open visit as ending at now
func (v *Visit) DurationMillis(now int64) int64 {
	end := now
	if v.EndTime != nil {
		end = *v.EndTime
	}
	if end < v.StartTime {
		return 0
	}
	return end - v.StartTime
}

// IsOpen reports whether the visit has no end time yet
func (v *Visit) IsOpen() bool {
	return v.EndTime == nil
}

// SessionType identifies which kind of session produced a visit
type SessionType string

const (
	SessionStill    SessionType = "still"
	SessionMovement SessionType = "movement"
	SessionGeofence SessionType = "geofence"
)

// IsStillLike reports whether the session represents staying somewhere
func (t SessionType) IsStillLike() bool {
	return t == SessionStill || t == SessionGeofence
}

// VisitSummary describes a visit after its session finalized
type VisitSummary struct {
	VisitID      int64       `json:"visitId"`
	PlaceID      int64       `json:"placeId"`
	Category     string      `json:"category"`
	Type         SessionType `json:"type"`
	StartTime    int64       `json:"startTime"`
	EndTime      int64       `json:"endTime"`
	Confidence   int         `json:"confidence"`
	Anchor       *Coordinate `json:"anchor,omitempty"`
	Reclassified bool        `json:"reclassified,omitempty"`
}

// DurationMillis returns the summary length in milliseconds
func (s *VisitSummary) DurationMillis() int64 {
	if s.EndTime < s.StartTime {
		return 0
	}
	return s.EndTime - s.StartTime
}

// TimelineFilter selects visits or sleep records overlapping a time range
type TimelineFilter struct {
	From int64 `form:"from"` // Epoch millis
	To   int64 `form:"to"`   // Epoch millis
}

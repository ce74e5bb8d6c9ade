package models

import (
	"fmt"
	"strings"
)

// Coordinate is a WGS84 position in degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is a single fix delivered by the location provider
type LocationSample struct {
	Latitude  float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"min=-180,max=180"`
	Accuracy  float64 `json:"accuracy"`                // Meters, 0 if unknown
	Time      int64   `json:"time" binding:"required"` // Epoch millis
}

// Coordinate returns the sample position
func (s LocationSample) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// ActivityKind is a motion classifier label
type ActivityKind string

const (
	ActivityStill   ActivityKind = "still"
	ActivityWalking ActivityKind = "walking"
	ActivityRunning ActivityKind = "running"
	ActivityCycling ActivityKind = "cycling"
	ActivityDriving ActivityKind = "driving"
)

// IsFoot reports whether the activity is walking or running
func (k ActivityKind) IsFoot() bool {
	return k == ActivityWalking || k == ActivityRunning
}

// IsMovement reports whether the activity is one of the movement kinds
func (k ActivityKind) IsMovement() bool {
	switch k {
	case ActivityWalking, ActivityRunning, ActivityCycling, ActivityDriving:
		return true
	}
	return false
}

// MovementCategory returns the place category key used for trips of this kind
func (k ActivityKind) MovementCategory() string {
	return CategoryPrefixMovement + string(k)
}

// ParseActivityKind maps classifier labels (including common aliases) to a kind
func ParseActivityKind(s string) (ActivityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "still":
		return ActivityStill, nil
	case "walking", "on_foot", "on foot":
		return ActivityWalking, nil
	case "running":
		return ActivityRunning, nil
	case "cycling", "on_bicycle", "bicycle":
		return ActivityCycling, nil
	case "driving", "in_vehicle", "vehicle":
		return ActivityDriving, nil
	}
	return "", fmt.Errorf("unknown activity kind: %q", s)
}

// ActivityTransition is an enter or exit reported by the motion classifier
type ActivityTransition struct {
	Kind     ActivityKind `json:"kind" binding:"required"`
	Entering bool         `json:"entering"`
	Time     int64        `json:"time" binding:"required"` // Epoch millis
}

// GeofenceTransition is the kind of geofence event
type GeofenceTransition string

const (
	GeofenceEnter GeofenceTransition = "enter"
	GeofenceExit  GeofenceTransition = "exit"
	GeofenceDwell GeofenceTransition = "dwell"
)

// ParseGeofenceTransition validates a transition label
func ParseGeofenceTransition(s string) (GeofenceTransition, error) {
	switch GeofenceTransition(strings.ToLower(strings.TrimSpace(s))) {
	case GeofenceEnter:
		return GeofenceEnter, nil
	case GeofenceExit:
		return GeofenceExit, nil
	case GeofenceDwell:
		return GeofenceDwell, nil
	}
	return "", fmt.Errorf("unknown geofence transition: %q", s)
}

// GeofenceEvent is a transition for a registered place region
type GeofenceEvent struct {
	PlaceID    int64              `json:"placeId" binding:"required"`
	Transition GeofenceTransition `json:"transition" binding:"required"`
	Time       int64              `json:"time" binding:"required"` // Epoch millis
}

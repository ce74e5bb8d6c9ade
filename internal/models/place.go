package models

import "strings"

// Place represents a named location the user spends time at
type Place struct {
	ID           int64   `json:"id" db:"id"`
	Label        string  `json:"label" db:"label"`
	Latitude     float64 `json:"latitude" db:"latitude"`
	Longitude    float64 `json:"longitude" db:"longitude"`
	RadiusMeters float64 `json:"radiusMeters" db:"radius_meters"` // 0 = non-geographic (activity category)
	Category     string  `json:"category" db:"category"`          // Stable lookup key, e.g. "home", "still:1.2345:2.3456"
	ColorARGB    int64   `json:"colorArgb" db:"color_argb"`

	CreatedAt int64 `json:"createdAt,omitempty" db:"created_at"` // Epoch millis
}

// Category key prefixes for places the resolver synthesizes
const (
	CategoryPrefixStill    = "still:"
	CategoryPrefixMovement = "movement:"
)

// IsGeographic reports whether the place has a circular region
func (p *Place) IsGeographic() bool {
	return p.RadiusMeters > 0
}

// Center returns the place center as a coordinate
func (p *Place) Center() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// IsMovementCategory reports whether a category key belongs to a movement place
func IsMovementCategory(category string) bool {
	return strings.HasPrefix(category, CategoryPrefixMovement)
}

// CreatePlaceRequest is the payload for registering a user-defined place
type CreatePlaceRequest struct {
	Label        string  `json:"label" binding:"required"`
	Latitude     float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude    float64 `json:"longitude" binding:"min=-180,max=180"`
	RadiusMeters float64 `json:"radiusMeters" binding:"gt=0"`
	Category     string  `json:"category" binding:"required"`
}

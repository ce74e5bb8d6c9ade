// Package spatial provides great-circle geometry over WGS84 coordinates.
package spatial

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// DistanceMeters returns the great-circle distance between two coordinates
func DistanceMeters(a, b models.Coordinate) float64 {
	return HaversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Within reports whether p lies inside the circle of radiusMeters around center.
// The boundary counts as inside.
func Within(center models.Coordinate, radiusMeters float64, p models.Coordinate) bool {
	if radiusMeters <= 0 {
		return false
	}
	return DistanceMeters(center, p) <= radiusMeters
}

// PathLength calculates the total length of a path in meters
func PathLength(points []models.Coordinate) float64 {
	if len(points) < 2 {
		return 0
	}

	total := 0.0
	for i := 1; i < len(points); i++ {
		total += DistanceMeters(points[i-1], points[i])
	}
	return total
}

// MaxDistanceFrom returns the largest distance from origin to any point
func MaxDistanceFrom(origin models.Coordinate, points []models.Coordinate) float64 {
	max := 0.0
	for _, p := range points {
		if d := DistanceMeters(origin, p); d > max {
			max = d
		}
	}
	return max
}

// Cap returns the s2 spherical cap covering a circular region
func Cap(center models.Coordinate, radiusMeters float64) s2.Cap {
	pt := s2.PointFromLatLng(s2.LatLngFromDegrees(center.Latitude, center.Longitude))
	return s2.CapFromCenterAngle(pt, s1.Angle(radiusMeters/EarthRadiusMeters))
}

// RoundedKey formats a coordinate with the given number of decimals,
// e.g. RoundedKey(c, 4) = "10.0000:20.0000"
func RoundedKey(c models.Coordinate, decimals int) string {
	return fmt.Sprintf("%.*f:%.*f", decimals, c.Latitude, decimals, c.Longitude)
}

// OffsetMeters returns the point reached by moving north and east by the given
// distances, using a local flat approximation suitable for short offsets
func OffsetMeters(c models.Coordinate, northMeters, eastMeters float64) models.Coordinate {
	dLat := northMeters / EarthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (EarthRadiusMeters * math.Cos(c.Latitude*math.Pi/180)) * 180 / math.Pi
	return models.Coordinate{Latitude: c.Latitude + dLat, Longitude: c.Longitude + dLon}
}

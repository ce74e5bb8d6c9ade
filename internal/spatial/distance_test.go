package spatial

import (
	"testing"

	"github.com/golang/geo/s2"
	"github.com/stretchr/testify/assert"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

func TestDistanceMeters(t *testing.T) {
	a := models.Coordinate{Latitude: 0, Longitude: 0}
	b := models.Coordinate{Latitude: 0, Longitude: 1}

	// One degree of longitude on the equator
	assert.InDelta(t, 111195, DistanceMeters(a, b), 1)
	assert.Zero(t, DistanceMeters(a, a))
}

func TestOffsetMeters(t *testing.T) {
	origin := models.Coordinate{Latitude: 10, Longitude: 10}

	north := OffsetMeters(origin, 99.9, 0)
	assert.InDelta(t, 99.9, DistanceMeters(origin, north), 0.01)

	east := OffsetMeters(origin, 0, 250)
	assert.InDelta(t, 250, DistanceMeters(origin, east), 0.5)
}

func TestWithin(t *testing.T) {
	center := models.Coordinate{Latitude: 48.8566, Longitude: 2.3522}

	assert.True(t, Within(center, 200, OffsetMeters(center, 150, 0)))
	assert.False(t, Within(center, 200, OffsetMeters(center, 250, 0)))
	assert.False(t, Within(center, 0, center), "zero radius is non-geographic")
}

func TestPathLength(t *testing.T) {
	start := models.Coordinate{Latitude: 10, Longitude: 10}
	mid := OffsetMeters(start, 100, 0)
	end := OffsetMeters(mid, 100, 0)

	assert.Zero(t, PathLength(nil))
	assert.Zero(t, PathLength([]models.Coordinate{start}))
	assert.InDelta(t, 200, PathLength([]models.Coordinate{start, mid, end}), 0.1)
	// Back and forth is longer than the farthest extent
	assert.InDelta(t, 200, PathLength([]models.Coordinate{start, mid, start}), 0.1)
	assert.InDelta(t, 100, MaxDistanceFrom(start, []models.Coordinate{start, mid, start}), 0.1)
}

func TestCap(t *testing.T) {
	center := models.Coordinate{Latitude: 10, Longitude: 10}
	c := Cap(center, 200)

	inside := OffsetMeters(center, 150, 0)
	outside := OffsetMeters(center, 260, 0)
	assert.True(t, c.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(inside.Latitude, inside.Longitude))))
	assert.False(t, c.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(outside.Latitude, outside.Longitude))))
}

func TestRoundedKey(t *testing.T) {
	c := models.Coordinate{Latitude: 10.123456, Longitude: -20.98767}
	assert.Equal(t, "10.1235:-20.9877", RoundedKey(c, 4))
	assert.Equal(t, "10.123:-20.988", RoundedKey(c, 3))
}

func TestGeohash(t *testing.T) {
	c := models.Coordinate{Latitude: 57.64911, Longitude: 10.40744}
	assert.Equal(t, "u4pruydqqvj", Geohash(c, 11))
	assert.Equal(t, "u4pruyd", Geohash(c, 7))
	assert.Equal(t, "u", Geohash(c, 0))
	assert.Len(t, Geohash(c, 40), 12)
}

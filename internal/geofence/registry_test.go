package geofence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/spatial"
)

var origin = models.Coordinate{Latitude: 52.52, Longitude: 13.405}

func sampleAt(c models.Coordinate, t int64) models.LocationSample {
	return models.LocationSample{Latitude: c.Latitude, Longitude: c.Longitude, Time: t}
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	far := spatial.OffsetMeters(origin, 0, 1000)
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(context.Background(), []models.Place{
		{ID: 1, Label: "Home", Latitude: origin.Latitude, Longitude: origin.Longitude, RadiusMeters: 100},
		{ID: 2, Label: "Trip • Walking", Category: "movement:walking"},
		{ID: 3, Label: "Office", Latitude: far.Latitude, Longitude: far.Longitude, RadiusMeters: 150},
	}))
	return r
}

func TestRegister_SkipsNonGeographic(t *testing.T) {
	r := newRegistry(t)

	regions := r.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, int64(1), regions[0].PlaceID)
	assert.Equal(t, int64(3), regions[1].PlaceID)
}

func TestEvaluate_Transitions(t *testing.T) {
	r := newRegistry(t)

	assert.Equal(t, []models.GeofenceEvent{
		{PlaceID: 1, Transition: models.GeofenceEnter, Time: 1},
	}, r.Evaluate(sampleAt(origin, 1)))

	// Still inside: no events
	assert.Empty(t, r.Evaluate(sampleAt(spatial.OffsetMeters(origin, 50, 0), 2)))

	office := spatial.OffsetMeters(origin, 0, 1000)
	assert.Equal(t, []models.GeofenceEvent{
		{PlaceID: 1, Transition: models.GeofenceExit, Time: 3},
		{PlaceID: 3, Transition: models.GeofenceEnter, Time: 3},
	}, r.Evaluate(sampleAt(office, 3)))

	assert.Equal(t, []models.GeofenceEvent{
		{PlaceID: 3, Transition: models.GeofenceExit, Time: 4},
	}, r.Evaluate(sampleAt(spatial.OffsetMeters(origin, 0, 500), 4)))
}

func TestEvaluate_ReRegisterDropsStaleRegion(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	require.Len(t, r.Evaluate(sampleAt(origin, 1)), 1)

	// Home is deleted while we are inside it; no exit is reported for a region that no longer exists
	require.NoError(t, r.Register(ctx, []models.Place{{ID: 3, Latitude: 0, Longitude: 0, RadiusMeters: 10}}))
	assert.Empty(t, r.Evaluate(sampleAt(origin, 2)))

	require.NoError(t, r.Clear(ctx))
	assert.Empty(t, r.Regions())
}

package maps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"googlemaps.github.io/maps"

	"ridelink/internal/types"
)

func TestRouteFromLegs(t *testing.T) {
	legs := []*maps.Leg{
		{
			Distance:          maps.Distance{Meters: 12000},
			Duration:          25 * time.Minute,
			DurationInTraffic: 30 * time.Minute,
		},
		{
			Distance: maps.Distance{Meters: 500},
			Duration: 5 * time.Minute,
		},
	}

	got := routeFromLegs(legs)

	assert.InDelta(t, 12.5, got.DistanceKm, 1e-9)
	assert.Equal(t, 1800.0, got.DurationSec)
	assert.Equal(t, 1800.0, got.DurationWithTrafficSec)
}

func TestLatLng(t *testing.T) {
	assert.Equal(t, "26.475500,73.114900", latLng(types.Point{Lat: 26.4755, Lng: 73.1149}))
}

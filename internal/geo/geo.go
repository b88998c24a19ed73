// Package geo contains pure geographic computation helpers shared by
// matching, tracking and fare estimation.
package geo

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"ridelink/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance in kilometres
// between two points specified in decimal degrees.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// WithinRadius reports whether p lies within radiusKm of center (inclusive).
func WithinRadius(center, p types.Point, radiusKm float64) bool {
	return DistanceKm(center, p) <= radiusKm
}

// EstimateEtaMinutes converts a distance into minutes at a constant average speed.
func EstimateEtaMinutes(distanceKm, avgSpeedKmh float64) (float64, error) {
	if avgSpeedKmh <= 0 || math.IsNaN(avgSpeedKmh) {
		return 0, fmt.Errorf("%w: average speed must be positive, got %v", types.ErrInvalidParameter, avgSpeedKmh)
	}
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		return 0, fmt.Errorf("%w: distance must be non-negative, got %v", types.ErrInvalidParameter, distanceKm)
	}
	return distanceKm / avgSpeedKmh * 60, nil
}

// BearingDeg returns the initial great-circle bearing from a to b in [0, 360).
func BearingDeg(a, b types.Point) float64 {
	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// ValidatePoint rejects coordinates outside the WGS84 range.
func ValidatePoint(p types.Point) error {
	if !p.Valid() {
		return fmt.Errorf("%w: coordinate out of range (%v, %v)", types.ErrInvalidParameter, p.Lat, p.Lng)
	}
	return nil
}

// SortByDistance stably sorts any slice whose elements expose a distance
// through the accessor, closest first.
func SortByDistance[T any](items []T, dist func(T) float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(dist(a), dist(b))
	})
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

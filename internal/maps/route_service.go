package maps

import (
	"context"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"ridelink/internal/types"
)

// Route is a driving estimate between two coordinates.
type Route struct {
	DistanceKm             float64
	DurationSec            float64
	DurationWithTrafficSec float64
}

// RouteService handles interactions with the Google Maps Directions and
// Geocoding APIs.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Route returns distance, free-flow duration and duration in current traffic
// for a driving trip. Any API failure is reported as ErrProviderUnavailable.
func (s *RouteService) Route(ctx context.Context, from, to types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:        latLng(from),
		Destination:   latLng(to),
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		TrafficModel:  maps.TrafficModelBestGuess,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("%w: directions: %v", types.ErrProviderUnavailable, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("%w: no route found", types.ErrProviderUnavailable)
	}
	return routeFromLegs(routes[0].Legs), nil
}

// Label reverse-geocodes a coordinate into a display address.
func (s *RouteService) Label(ctx context.Context, p types.Point) (string, error) {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("%w: reverse geocode: %v", types.ErrProviderUnavailable, err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].FormattedAddress, nil
}

func routeFromLegs(legs []*maps.Leg) Route {
	var out Route
	for _, leg := range legs {
		out.DistanceKm += float64(leg.Distance.Meters) / 1000
		out.DurationSec += leg.Duration.Seconds()
		out.DurationWithTrafficSec += leg.DurationInTraffic.Seconds()
	}
	return out
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

// README: Pricing service quotes a fare from a routing estimate.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ridelink/internal/geo"
	"ridelink/internal/logger"
	"ridelink/internal/maps"
	"ridelink/internal/observability"
	"ridelink/internal/types"
)

type Router interface {
	Route(ctx context.Context, from, to types.Point) (maps.Route, error)
}

type Service struct {
	rates  RateSource
	router Router
	loc    *time.Location
	opts   []Option
	log    *zap.Logger
}

func NewService(rates RateSource, router Router, loc *time.Location, log *zap.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{rates: rates, router: router, loc: loc, opts: opts, log: logger.OrNop(log)}
}

// Quote prices a trip requested at the given instant. No fare is quoted
// when the routing provider fails.
func (s *Service) Quote(ctx context.Context, origin, destination types.Point, at time.Time) (Quote, error) {
	if err := geo.ValidatePoint(origin); err != nil {
		return Quote{}, err
	}
	if err := geo.ValidatePoint(destination); err != nil {
		return Quote{}, err
	}

	route, err := s.router.Route(ctx, origin, destination)
	if err != nil {
		observability.FareQuotes.WithLabelValues("provider_unavailable").Inc()
		s.log.Warn("routing provider failed", logger.Err(err))
		if !errors.Is(err, types.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
		}
		return Quote{}, err
	}

	rates, err := s.rates.Rates(ctx)
	if err != nil {
		observability.FareQuotes.WithLabelValues("error").Inc()
		return Quote{}, err
	}

	q, err := NewEstimator(rates, s.opts...).Estimate(Input{
		DistanceKm:    route.DistanceKm,
		DurationSec:   route.DurationSec,
		TrafficFactor: TrafficFactor(route.DurationSec, route.DurationWithTrafficSec),
		HourOfDay:     at.In(s.loc).Hour(),
	})
	if err != nil {
		observability.FareQuotes.WithLabelValues("error").Inc()
		return Quote{}, err
	}
	q.Origin = origin
	q.Destination = destination
	observability.FareQuotes.WithLabelValues("ok").Inc()
	return q, nil
}

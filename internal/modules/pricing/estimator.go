package pricing

import (
	"fmt"
	"math"

	"ridelink/internal/types"
)

const rushHourFactor = 1.2

// SurgeFunc maps a demand index to a multiplier.
type SurgeFunc func(demandIndex float64) float64

type TimeOfDayFunc func(hour int) float64

type WeatherFunc func() float64

type Option func(*Estimator)

func WithSurge(f SurgeFunc) Option { return func(e *Estimator) { e.surge = f } }

func WithTimeOfDay(f TimeOfDayFunc) Option { return func(e *Estimator) { e.timeOfDay = f } }

func WithWeather(f WeatherFunc) Option { return func(e *Estimator) { e.weather = f } }

// Estimator prices a trip:
//
//	(base + km*perKm + min*perMin*traffic) * surge * timeOfDay * weather + tolls
//
// floored at the minimum fare and rounded to 2 decimals.
type Estimator struct {
	rates     Rates
	surge     SurgeFunc
	timeOfDay TimeOfDayFunc
	weather   WeatherFunc
}

func NewEstimator(rates Rates, opts ...Option) *Estimator {
	e := &Estimator{
		rates:     rates,
		surge:     func(float64) float64 { return 1.0 },
		timeOfDay: RushHourFactor,
		weather:   func() float64 { return 1.0 },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RushHourFactor is 1.2 during 08:00-10:00 and 18:00-21:00, else 1.0.
func RushHourFactor(hour int) float64 {
	if (hour >= 8 && hour < 10) || (hour >= 18 && hour < 21) {
		return rushHourFactor
	}
	return 1.0
}

// TrafficFactor derives the traffic multiplier from routing durations.
// Missing data yields 1.0.
func TrafficFactor(freeFlowSec, withTrafficSec float64) float64 {
	if freeFlowSec <= 0 || withTrafficSec <= 0 {
		return 1.0
	}
	return normalizeTraffic(withTrafficSec / freeFlowSec)
}

func (e *Estimator) Estimate(in Input) (Quote, error) {
	if in.DistanceKm < 0 || math.IsNaN(in.DistanceKm) || math.IsInf(in.DistanceKm, 0) {
		return Quote{}, fmt.Errorf("%w: distance %v", types.ErrInvalidParameter, in.DistanceKm)
	}
	if in.DurationSec < 0 || math.IsNaN(in.DurationSec) || math.IsInf(in.DurationSec, 0) {
		return Quote{}, fmt.Errorf("%w: duration %v", types.ErrInvalidParameter, in.DurationSec)
	}
	if in.HourOfDay < 0 || in.HourOfDay > 23 {
		return Quote{}, fmt.Errorf("%w: hour of day %d", types.ErrInvalidParameter, in.HourOfDay)
	}

	traffic := normalizeTraffic(in.TrafficFactor)
	b := Breakdown{
		Base:      e.rates.BaseFare,
		Distance:  in.DistanceKm * e.rates.PerKm,
		Time:      in.DurationSec / 60 * e.rates.PerMinute * traffic,
		Surge:     positiveOr(e.surge(in.DemandIndex), 1),
		TimeOfDay: positiveOr(e.timeOfDay(in.HourOfDay), 1),
		Weather:   positiveOr(e.weather(), 1),
		Tolls:     e.rates.Tolls,
	}

	total := (b.Base+b.Distance+b.Time)*b.Surge*b.TimeOfDay*b.Weather + b.Tolls
	if total < e.rates.MinimumFare {
		total = e.rates.MinimumFare
		b.MinimumApplied = true
	}

	return Quote{
		Amount:        roundCents(total),
		Currency:      e.rates.Currency,
		DistanceKm:    in.DistanceKm,
		DurationSec:   in.DurationSec,
		TrafficFactor: traffic,
		Breakdown:     b,
	}, nil
}

func normalizeTraffic(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return 1.0
	}
	return f
}

func positiveOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return def
	}
	return v
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

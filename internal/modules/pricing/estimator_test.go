package pricing

import (
	"errors"
	"math/rand"
	"testing"

	"ridelink/internal/types"
)

var testRates = Rates{
	BaseFare:    50,
	PerKm:       12,
	PerMinute:   2,
	MinimumFare: 100,
	Currency:    "INR",
}

func TestEstimator_Estimate(t *testing.T) {
	tests := []struct {
		name     string
		rates    Rates
		opts     []Option
		in       Input
		wantFare float64
		wantMin  bool
	}{
		{
			name:     "rush hour 09:00, 12.5km, 30min, no traffic",
			rates:    testRates,
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, TrafficFactor: 1.0, HourOfDay: 9},
			wantFare: 312.00, // (50 + 150 + 60) * 1.2
		},
		{
			name:     "off-peak noon, same trip",
			rates:    testRates,
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, TrafficFactor: 1.0, HourOfDay: 12},
			wantFare: 260.00,
		},
		{
			name:     "zero distance charges the minimum",
			rates:    testRates,
			in:       Input{HourOfDay: 12},
			wantFare: 100.00,
			wantMin:  true,
		},
		{
			name:     "traffic scales the time component only",
			rates:    testRates,
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, TrafficFactor: 1.5, HourOfDay: 12},
			wantFare: 290.00, // 50 + 150 + 60*1.5
		},
		{
			name:     "traffic below 1 is raised to 1",
			rates:    testRates,
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, TrafficFactor: 0.4, HourOfDay: 12},
			wantFare: 260.00,
		},
		{
			name:     "missing traffic defaults to 1",
			rates:    testRates,
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, HourOfDay: 12},
			wantFare: 260.00,
		},
		{
			name:     "tolls added after multipliers",
			rates:    Rates{BaseFare: 50, PerKm: 12, PerMinute: 2, MinimumFare: 100, Tolls: 25},
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, HourOfDay: 19},
			wantFare: 337.00, // 260 * 1.2 + 25
		},
		{
			name:     "surge from demand",
			rates:    testRates,
			opts:     []Option{WithSurge(func(d float64) float64 { return 1 + d/2 })},
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, HourOfDay: 12, DemandIndex: 1},
			wantFare: 390.00,
		},
		{
			name:     "weather factor",
			rates:    testRates,
			opts:     []Option{WithWeather(func() float64 { return 1.1 })},
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, HourOfDay: 12},
			wantFare: 286.00,
		},
		{
			name:     "non-positive factor is ignored",
			rates:    testRates,
			opts:     []Option{WithWeather(func() float64 { return 0 })},
			in:       Input{DistanceKm: 12.5, DurationSec: 1800, HourOfDay: 12},
			wantFare: 260.00,
		},
		{
			name:     "rounded to two decimals",
			rates:    Rates{BaseFare: 50, PerKm: 12},
			in:       Input{DistanceKm: 1.234, HourOfDay: 12},
			wantFare: 64.81, // 50 + 14.808
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEstimator(tt.rates, tt.opts...).Estimate(tt.in)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if got.Amount != tt.wantFare {
				t.Errorf("Estimate() = %v, want %v", got.Amount, tt.wantFare)
			}
			if got.Breakdown.MinimumApplied != tt.wantMin {
				t.Errorf("MinimumApplied = %v, want %v", got.Breakdown.MinimumApplied, tt.wantMin)
			}
		})
	}
}

func TestEstimator_InvalidInput(t *testing.T) {
	e := NewEstimator(testRates)
	bad := []Input{
		{DistanceKm: -1, HourOfDay: 12},
		{DurationSec: -60, HourOfDay: 12},
		{HourOfDay: 24},
		{HourOfDay: -1},
	}
	for _, in := range bad {
		if _, err := e.Estimate(in); !errors.Is(err, types.ErrInvalidParameter) {
			t.Errorf("Estimate(%+v) error = %v, want ErrInvalidParameter", in, err)
		}
	}
}

func TestRushHourFactor(t *testing.T) {
	tests := []struct {
		hour int
		want float64
	}{
		{7, 1.0}, {8, 1.2}, {9, 1.2}, {10, 1.0},
		{17, 1.0}, {18, 1.2}, {20, 1.2}, {21, 1.0}, {0, 1.0},
	}
	for _, tt := range tests {
		if got := RushHourFactor(tt.hour); got != tt.want {
			t.Errorf("RushHourFactor(%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestTrafficFactor(t *testing.T) {
	if got := TrafficFactor(1200, 1800); got != 1.5 {
		t.Errorf("TrafficFactor(1200, 1800) = %v, want 1.5", got)
	}
	if got := TrafficFactor(1800, 1200); got != 1.0 {
		t.Errorf("faster than free flow should clamp to 1.0, got %v", got)
	}
	if got := TrafficFactor(1800, 0); got != 1.0 {
		t.Errorf("missing traffic duration should default to 1.0, got %v", got)
	}
}

func TestEstimator_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := NewEstimator(testRates)
	for i := 0; i < 500; i++ {
		in := Input{
			DistanceKm:    rng.Float64() * 80,
			DurationSec:   rng.Float64() * 7200,
			TrafficFactor: rng.Float64() * 3,
		}

		in.HourOfDay = 12
		offPeak, err := e.Estimate(in)
		if err != nil {
			t.Fatal(err)
		}
		in.HourOfDay = 9
		peak, err := e.Estimate(in)
		if err != nil {
			t.Fatal(err)
		}

		if offPeak.Amount < testRates.MinimumFare || peak.Amount < testRates.MinimumFare {
			t.Fatalf("fare below minimum for %+v", in)
		}
		if peak.Amount < offPeak.Amount {
			t.Fatalf("rush-hour fare %v below off-peak %v for %+v", peak.Amount, offPeak.Amount, in)
		}
	}
}

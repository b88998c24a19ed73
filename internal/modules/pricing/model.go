// README: Fare rates, estimator inputs and quotes.
package pricing

import "ridelink/internal/types"

// Rates are the per-region tariff constants.
type Rates struct {
	BaseFare    float64
	PerKm       float64
	PerMinute   float64
	MinimumFare float64
	Tolls       float64
	Currency    string
}

type Input struct {
	DistanceKm  float64
	DurationSec float64
	// TrafficFactor is durationWithTraffic / durationFreeFlow; values below 1 are raised to 1.
	TrafficFactor float64
	HourOfDay     int
	DemandIndex   float64
}

type Breakdown struct {
	Base           float64 `json:"base"`
	Distance       float64 `json:"distance"`
	Time           float64 `json:"time"`
	Surge          float64 `json:"surge"`
	TimeOfDay      float64 `json:"timeOfDay"`
	Weather        float64 `json:"weather"`
	Tolls          float64 `json:"tolls"`
	MinimumApplied bool    `json:"minimumApplied"`
}

type Quote struct {
	Amount        float64     `json:"fareAmount"`
	Currency      string      `json:"currency"`
	DistanceKm    float64     `json:"distanceKm"`
	DurationSec   float64     `json:"durationSec"`
	TrafficFactor float64     `json:"trafficFactor"`
	Origin        types.Point `json:"origin"`
	Destination   types.Point `json:"destination"`
	Breakdown     Breakdown   `json:"breakdown"`
}

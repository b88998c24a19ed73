// README: Raw position samples and the sources the tracker reads them from.
package location

import (
	"fmt"
	"math"
	"sync"
	"time"

	"ridelink/internal/geo"
	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

// Sample is one reading from the device. Optional measurements are nil when
// the device did not report them.
type Sample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
}

func (s Sample) Point() types.Point {
	return types.Point{Lat: s.Lat, Lng: s.Lng}
}

// Fix converts the sample to a publishable location. Optional fields that
// fail their range check are omitted, never zeroed.
func (s Sample) Fix() (ride.DriverLocation, error) {
	if err := geo.ValidatePoint(s.Point()); err != nil {
		return ride.DriverLocation{}, err
	}
	if s.Timestamp.IsZero() {
		return ride.DriverLocation{}, fmt.Errorf("%w: sample without timestamp", types.ErrInvalidParameter)
	}
	return ride.DriverLocation{
		Lat:       s.Lat,
		Lng:       s.Lng,
		Timestamp: s.Timestamp,
		Accuracy:  keep(s.Accuracy, func(v float64) bool { return v > 0 }),
		Speed:     keep(s.Speed, func(v float64) bool { return v >= 0 }),
		Heading:   keep(s.Heading, func(v float64) bool { return v >= 0 && v < 360 }),
	}, nil
}

func keep(v *float64, ok func(float64) bool) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || !ok(*v) {
		return nil
	}
	c := *v
	return &c
}

// PositionSource yields the most recent device position.
type PositionSource interface {
	Latest() (Sample, bool)
}

// PushSource is a PositionSource fed by the client, e.g. over HTTP.
type PushSource struct {
	mu   sync.Mutex
	last *Sample
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

// Push stores s as the latest sample. Samples older than the current one are
// ignored so readers only ever see non-decreasing timestamps.
func (p *PushSource) Push(s Sample) error {
	if err := geo.ValidatePoint(s.Point()); err != nil {
		return err
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && s.Timestamp.Before(p.last.Timestamp) {
		return nil
	}
	p.last = &s
	return nil
}

func (p *PushSource) Latest() (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Sample{}, false
	}
	return *p.last, true
}

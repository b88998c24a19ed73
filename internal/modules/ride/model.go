// README: Ride request aggregate, status definitions and the transition table.
package ride

import (
	"fmt"
	"time"

	"ridelink/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// DriverLocation is a published position fix. Optional measurements are nil
// when unknown; zero is a real measurement.
type DriverLocation struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
}

func (l DriverLocation) Point() types.Point {
	return types.Point{Lat: l.Lat, Lng: l.Lng}
}

type RideRequest struct {
	ID               types.ID    `json:"id"`
	RiderID          types.ID    `json:"riderId"`
	RiderName        string      `json:"riderName"`
	Origin           types.Point `json:"origin"`
	Destination      types.Point `json:"destination"`
	OriginLabel      string      `json:"originLabel,omitempty"`
	DestinationLabel string      `json:"destinationLabel,omitempty"`
	OriginGeohash    string      `json:"originGeohash,omitempty"`
	RequestedAt      time.Time   `json:"requestedAt"`
	ScheduledFor     *time.Time  `json:"scheduledFor,omitempty"`

	DistanceKm    float64 `json:"distanceKm"`
	DurationSec   float64 `json:"durationSec"`
	TrafficFactor float64 `json:"trafficFactor"`
	FareAmount    float64 `json:"fareAmount"`
	Currency      string  `json:"currency,omitempty"`

	Status Status `json:"status"`
	// PreferredDriverID targets the ride at one driver; their rejection ends it.
	PreferredDriverID types.ID `json:"preferredDriverId,omitempty"`

	DriverID       types.ID        `json:"driverId,omitempty"`
	DriverName     string          `json:"driverName,omitempty"`
	DriverPhone    string          `json:"driverPhone,omitempty"`
	VehicleInfo    string          `json:"vehicleInfo,omitempty"`
	DriverLocation *DriverLocation `json:"driverLocation,omitempty"`

	DistanceRemainingKm *float64 `json:"distanceRemaining,omitempty"`
	EtaMinutes          *float64 `json:"etaMinutes,omitempty"`
	PickupDistanceKm    *float64 `json:"pickupDistance,omitempty"`

	AcceptedAt      *time.Time `json:"acceptedAt,omitempty"`
	RideStartedAt   *time.Time `json:"rideStartedAt,omitempty"`
	RideCompletedAt *time.Time `json:"rideCompletedAt,omitempty"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy     types.ID   `json:"cancelledBy,omitempty"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectedBy      types.ID   `json:"rejectedBy,omitempty"`
}

// LocationUpdate is the additive tracking payload written by a driver.
type LocationUpdate struct {
	Location            DriverLocation
	DistanceRemainingKm *float64
	EtaMinutes          *float64
	PickupDistanceKm    *float64
}

type Event struct {
	RideID     types.ID  `json:"rideId"`
	FromStatus Status    `json:"from"`
	ToStatus   Status    `json:"to"`
	ActorID    types.ID  `json:"actorId,omitempty"`
	CreatedAt  time.Time `json:"at"`
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAccepted, StatusCancelled, StatusRejected},
	StatusAccepted:   {StatusStarted, StatusCancelled},
	StatusStarted:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// Active statuses accept driver location updates.
func (s Status) Active() bool {
	return s == StatusAccepted || s == StatusStarted || s == StatusInProgress
}

func (s Status) hasDriver() bool {
	return s.Active() || s == StatusCompleted
}

// Validate checks the record-level invariants.
func (r *RideRequest) Validate() error {
	if r.ID == "" || r.RiderID == "" {
		return fmt.Errorf("%w: ride and rider ids are required", types.ErrInvalidParameter)
	}
	if !r.Origin.Valid() || !r.Destination.Valid() {
		return fmt.Errorf("%w: invalid origin or destination", types.ErrInvalidParameter)
	}
	if _, known := AllowedTransitions[r.Status]; !known && !r.Status.Terminal() {
		return fmt.Errorf("%w: unknown status %q", types.ErrInvalidState, r.Status)
	}
	if r.Status.hasDriver() != (r.DriverID != "") {
		return fmt.Errorf("%w: driver must be assigned exactly while %s is accepted, started, in_progress or completed", types.ErrInvalidState, r.Status)
	}
	if r.DriverLocation != nil && !r.Status.hasDriver() {
		return fmt.Errorf("%w: driver location on a %s ride", types.ErrInvalidState, r.Status)
	}

	terminal := 0
	for _, ts := range []*time.Time{r.RideCompletedAt, r.CancelledAt, r.RejectedAt} {
		if ts != nil {
			terminal++
		}
	}
	switch {
	case r.Status.Terminal() && terminal != 1:
		return fmt.Errorf("%w: %s ride must carry exactly one terminal timestamp", types.ErrInvalidState, r.Status)
	case !r.Status.Terminal() && terminal != 0:
		return fmt.Errorf("%w: %s ride carries a terminal timestamp", types.ErrInvalidState, r.Status)
	case r.Status == StatusCompleted && r.RideCompletedAt == nil,
		r.Status == StatusCancelled && r.CancelledAt == nil,
		r.Status == StatusRejected && r.RejectedAt == nil:
		return fmt.Errorf("%w: %s ride has the wrong terminal timestamp", types.ErrInvalidState, r.Status)
	}
	return nil
}

// Clone returns a deep copy so stored records are never aliased.
func (r *RideRequest) Clone() *RideRequest {
	c := *r
	c.ScheduledFor = cloneTime(r.ScheduledFor)
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.RideStartedAt = cloneTime(r.RideStartedAt)
	c.RideCompletedAt = cloneTime(r.RideCompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.DistanceRemainingKm = cloneFloat(r.DistanceRemainingKm)
	c.EtaMinutes = cloneFloat(r.EtaMinutes)
	c.PickupDistanceKm = cloneFloat(r.PickupDistanceKm)
	if r.DriverLocation != nil {
		l := *r.DriverLocation
		l.Accuracy = cloneFloat(l.Accuracy)
		l.Speed = cloneFloat(l.Speed)
		l.Heading = cloneFloat(l.Heading)
		c.DriverLocation = &l
	}
	return &c
}

// applyLocation writes the tracking payload; the pickup distance is only
// meaningful before the trip starts.
func (r *RideRequest) applyLocation(u LocationUpdate) {
	loc := u.Location
	r.DriverLocation = &loc
	r.DistanceRemainingKm = u.DistanceRemainingKm
	r.EtaMinutes = u.EtaMinutes
	if r.Status == StatusAccepted {
		r.PickupDistanceKm = u.PickupDistanceKm
	} else {
		r.PickupDistanceKm = nil
	}
}

func (r *RideRequest) clearDriver() {
	r.DriverID = ""
	r.DriverName = ""
	r.DriverPhone = ""
	r.VehicleInfo = ""
	r.DriverLocation = nil
	r.DistanceRemainingKm = nil
	r.EtaMinutes = nil
	r.PickupDistanceKm = nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

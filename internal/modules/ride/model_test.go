// README: State machine table and record invariant tests.
package ride

import (
	"errors"
	"testing"
	"time"

	"ridelink/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// forward path
		{StatusRequested, StatusAccepted, true},
		{StatusAccepted, StatusStarted, true},
		{StatusStarted, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusRequested, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusStarted, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusRequested, StatusRejected, true},
		// terminal states have no outgoing transitions
		{StatusCancelled, StatusAccepted, false},
		{StatusCancelled, StatusStarted, false},
		{StatusCancelled, StatusInProgress, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusRejected, StatusAccepted, false},
		// skipping states
		{StatusRequested, StatusStarted, false},
		{StatusAccepted, StatusCompleted, false},
		{StatusAccepted, StatusRejected, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusRejected} {
		if !s.Terminal() || s.Active() {
			t.Errorf("%s should be terminal and inactive", s)
		}
	}
	for _, s := range []Status{StatusAccepted, StatusStarted, StatusInProgress} {
		if s.Terminal() || !s.Active() {
			t.Errorf("%s should be active", s)
		}
	}
	if StatusRequested.Active() || StatusRequested.Terminal() {
		t.Errorf("requested is neither active nor terminal")
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	base := func() *RideRequest { return newTestRide("r1", "rider1", now) }

	cases := []struct {
		name   string
		mutate func(r *RideRequest)
		want   error
	}{
		{"requested ok", func(r *RideRequest) {}, nil},
		{"missing rider", func(r *RideRequest) { r.RiderID = "" }, types.ErrInvalidParameter},
		{"bad origin", func(r *RideRequest) { r.Origin.Lat = 91 }, types.ErrInvalidParameter},
		{"unknown status", func(r *RideRequest) { r.Status = "flying" }, types.ErrInvalidState},
		{"driver on requested", func(r *RideRequest) { r.DriverID = "d1" }, types.ErrInvalidState},
		{"accepted without driver", func(r *RideRequest) { r.Status = StatusAccepted }, types.ErrInvalidState},
		{"accepted ok", func(r *RideRequest) {
			r.Status = StatusAccepted
			r.DriverID = "d1"
			r.AcceptedAt = &now
		}, nil},
		{"location without driver", func(r *RideRequest) {
			r.DriverLocation = &DriverLocation{Lat: 1, Lng: 1, Timestamp: now}
		}, types.ErrInvalidState},
		{"cancelled ok", func(r *RideRequest) {
			r.Status = StatusCancelled
			r.CancelledAt = &now
		}, nil},
		{"cancelled without timestamp", func(r *RideRequest) { r.Status = StatusCancelled }, types.ErrInvalidState},
		{"cancelled with rejected timestamp", func(r *RideRequest) {
			r.Status = StatusCancelled
			r.RejectedAt = &now
		}, types.ErrInvalidState},
		{"two terminal timestamps", func(r *RideRequest) {
			r.Status = StatusCancelled
			r.CancelledAt = &now
			r.RejectedAt = &now
		}, types.ErrInvalidState},
		{"terminal timestamp on active ride", func(r *RideRequest) { r.CancelledAt = &now }, types.ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := base()
			tc.mutate(r)
			err := r.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	now := time.Now()
	speed := 5.0
	r := newTestRide("r1", "rider1", now)
	r.Status = StatusAccepted
	r.DriverID = "d1"
	r.AcceptedAt = &now
	r.DriverLocation = &DriverLocation{Lat: 1, Lng: 2, Timestamp: now, Speed: &speed}

	c := r.Clone()
	*c.DriverLocation.Speed = 9
	c.DriverLocation.Lat = 3
	later := now.Add(time.Hour)
	*c.AcceptedAt = later

	if *r.DriverLocation.Speed != 5 || r.DriverLocation.Lat != 1 || !r.AcceptedAt.Equal(now) {
		t.Fatalf("clone aliases the original")
	}
}

func TestApplyLocation_PickupDistanceOnlyWhileAccepted(t *testing.T) {
	now := time.Now()
	d := 1.5
	r := newTestRide("r1", "rider1", now)
	r.Status = StatusStarted
	r.DriverID = "d1"
	r.applyLocation(LocationUpdate{Location: DriverLocation{Lat: 1, Lng: 1, Timestamp: now}, PickupDistanceKm: &d})
	if r.PickupDistanceKm != nil {
		t.Fatalf("pickup distance should be dropped after start")
	}

	r.Status = StatusAccepted
	r.applyLocation(LocationUpdate{Location: DriverLocation{Lat: 1, Lng: 1, Timestamp: now}, PickupDistanceKm: &d})
	if r.PickupDistanceKm == nil || *r.PickupDistanceKm != 1.5 {
		t.Fatalf("pickup distance not applied while accepted")
	}
}

func newTestRide(id, rider types.ID, at time.Time) *RideRequest {
	return &RideRequest{
		ID:          id,
		RiderID:     rider,
		RiderName:   "Asha",
		Origin:      types.Point{Lat: 26.4690, Lng: 73.1259},
		Destination: types.Point{Lat: 26.2389, Lng: 73.0243},
		RequestedAt: at,
		DistanceKm:  12.5,
		DurationSec: 1800,
		FareAmount:  312,
		Currency:    "INR",
		Status:      StatusRequested,
	}
}

// README: Live ride store contract shared by the in-memory and Firebase RTDB stores.
package ride

import (
	"context"
	"sort"
	"time"

	"ridelink/internal/feed"
	"ridelink/internal/types"
)

// Filter selects rides for Query and Subscribe. Zero fields match everything.
type Filter struct {
	RideID types.ID
	Status Status
}

func (f Filter) Matches(r *RideRequest) bool {
	if f.RideID != "" && r.ID != f.RideID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Snapshot is a full, self-consistent result set for a filter.
type Snapshot struct {
	Rides []RideRequest
	At    time.Time
}

// Mutation edits a copy of the stored ride; returning an error aborts the write.
type Mutation func(r *RideRequest) error

type LiveStore interface {
	// Create fails with types.ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, r *RideRequest) error
	// Read fails with types.ErrNotFound.
	Read(ctx context.Context, id types.ID) (*RideRequest, error)
	Query(ctx context.Context, f Filter) ([]RideRequest, error)
	// Subscribe streams snapshots until ctx is done or the stream is closed.
	// Intermediate states may be coalesced.
	Subscribe(ctx context.Context, f Filter) (*feed.Latest[Snapshot], error)
	// TryTransition applies m only while the stored status equals expected,
	// otherwise it fails with types.ErrConflict.
	TryTransition(ctx context.Context, id types.ID, expected Status, m Mutation) (*RideRequest, error)
	// PublishLocation is the additive location write. It is accepted only
	// from the assigned driver while the ride is active, and reports the
	// status the ride had when the write landed.
	PublishLocation(ctx context.Context, id, driverID types.ID, u LocationUpdate) (Status, error)
}

func sortRides(rides []RideRequest) {
	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].RequestedAt.Equal(rides[j].RequestedAt) {
			return rides[i].RequestedAt.Before(rides[j].RequestedAt)
		}
		return rides[i].ID < rides[j].ID
	})
}

// applyTransition runs a guarded mutation against the current record and
// returns the new record. Both stores share it so the guard is identical.
func applyTransition(cur *RideRequest, id types.ID, expected Status, m Mutation) (*RideRequest, error) {
	if cur == nil {
		return nil, notFound(id)
	}
	if cur.Status != expected {
		return nil, conflict(id, expected, cur.Status)
	}
	next := cur.Clone()
	if err := m(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	if next.Status != expected && !CanTransition(expected, next.Status) {
		return nil, invalidTransition(expected, next.Status)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func applyLocation(cur *RideRequest, id, driverID types.ID, u LocationUpdate) (*RideRequest, error) {
	if cur == nil {
		return nil, notFound(id)
	}
	if !cur.Status.Active() {
		return nil, inactive(id, cur.Status)
	}
	if cur.DriverID != driverID {
		return nil, types.ErrForbidden
	}
	next := cur.Clone()
	next.applyLocation(u)
	return next, nil
}

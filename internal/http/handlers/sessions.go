// README: Per-user lifecycle sessions kept for authenticated callers.
package handlers

import (
	"sync"

	"ridelink/internal/modules/location"
	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

// TrackerFactory builds the tracker that publishes a driver's pushed samples.
type TrackerFactory func(driverID types.ID, src location.PositionSource) *location.Tracker

// DriverSession pairs a driver's lifecycle session with the source their
// client pushes location samples into. Tracker is nil when no factory is set.
type DriverSession struct {
	*ride.Session
	Source  *location.PushSource
	Tracker *location.Tracker
}

type SessionRegistry struct {
	newTracker TrackerFactory

	mu      sync.Mutex
	riders  map[types.ID]*ride.Session
	drivers map[types.ID]*DriverSession
}

func NewSessionRegistry(newTracker TrackerFactory) *SessionRegistry {
	return &SessionRegistry{
		newTracker: newTracker,
		riders:     make(map[types.ID]*ride.Session),
		drivers:    make(map[types.ID]*DriverSession),
	}
}

func (r *SessionRegistry) Rider(uid types.ID) *ride.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.riders[uid]
	if !ok {
		s = ride.NewSession(uid, ride.RoleRider, nil)
		r.riders[uid] = s
	}
	return s
}

func (r *SessionRegistry) Driver(uid types.ID) *DriverSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.drivers[uid]
	if !ok {
		src := location.NewPushSource()
		s = &DriverSession{Source: src}
		var tracker ride.Tracker
		if r.newTracker != nil {
			s.Tracker = r.newTracker(uid, src)
			tracker = s.Tracker
		}
		s.Session = ride.NewSession(uid, ride.RoleDriver, tracker)
		r.drivers[uid] = s
	}
	return s
}

// For returns the caller's session for the given role claim.
func (r *SessionRegistry) For(uid types.ID, role string) *ride.Session {
	if role == string(ride.RoleDriver) {
		return r.Driver(uid).Session
	}
	return r.Rider(uid)
}

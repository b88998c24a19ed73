// README: Session-scoped client state: acting user, role, tracker and active ride.
package ride

import (
	"context"
	"sync"

	"ridelink/internal/types"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Tracker publishes the driver's position for one ride at a time.
type Tracker interface {
	// Start fails with types.ErrAlreadyTracking when a different ride is tracked.
	Start(ctx context.Context, r RideRequest) error
	// Stop is a no-op unless rideID is the tracked ride.
	Stop(rideID types.ID)
	Tracking() (types.ID, bool)
}

type DriverProfile struct {
	Name        string `json:"driverName"`
	Phone       string `json:"driverPhone"`
	VehicleInfo string `json:"vehicleInfo"`
}

// Session is the explicit per-client context passed to lifecycle operations.
// Separate sessions never share active-ride state.
type Session struct {
	ActorID types.ID
	Role    Role
	Tracker Tracker

	mu         sync.Mutex
	profile    DriverProfile
	lastFix    *DriverLocation
	activeRide types.ID
}

func NewSession(actor types.ID, role Role, tracker Tracker) *Session {
	return &Session{ActorID: actor, Role: role, Tracker: tracker}
}

func (s *Session) Profile() DriverProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Session) SetProfile(p DriverProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

// LastFix is the most recent position known to the session, attached to the
// ride on acceptance.
func (s *Session) LastFix() *DriverLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFix == nil {
		return nil
	}
	l := *s.lastFix
	return &l
}

func (s *Session) SetLastFix(l DriverLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFix = &l
}

func (s *Session) ActiveRide() (types.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRide, s.activeRide != ""
}

func (s *Session) setActive(id types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRide = id
}

// release stops tracking and clears the active ride if it is rideID.
func (s *Session) release(rideID types.ID) {
	if s.Tracker != nil {
		s.Tracker.Stop(rideID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRide == rideID {
		s.activeRide = ""
	}
}

// README: MatchingSearch: ranks open rides around a driver and keeps the list fresh.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridelink/internal/config"
	"ridelink/internal/feed"
	"ridelink/internal/geo"
	"ridelink/internal/logger"
	"ridelink/internal/modules/ride"
	"ridelink/internal/observability"
	"ridelink/internal/types"
)

// RideFeed is the read side of the live ride store.
type RideFeed interface {
	Query(ctx context.Context, f ride.Filter) ([]ride.RideRequest, error)
	Subscribe(ctx context.Context, f ride.Filter) (*feed.Latest[ride.Snapshot], error)
}

type Service struct {
	rides      RideFeed
	avail      AvailabilityStore
	rejections Rejections
	index      Index
	cfg        config.MatchingConfig
	log        *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	watches map[types.ID]map[chan struct{}]struct{}
}

type Option func(*Service)

// WithIndex keeps a geo index of eligible drivers for AvailableNear.
func WithIndex(idx Index) Option {
	return func(s *Service) { s.index = idx }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(rides RideFeed, avail AvailabilityStore, rejections Rejections, cfg config.MatchingConfig, log *zap.Logger, opts ...Option) *Service {
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = 50
	}
	if cfg.PositionThresholdM <= 0 {
		cfg.PositionThresholdM = 100
	}
	if rejections == nil {
		rejections = NewMemoryRejections()
	}
	s := &Service{
		rides:      rides,
		avail:      avail,
		rejections: rejections,
		cfg:        cfg,
		log:        logger.OrNop(log),
		now:        time.Now,
		watches:    make(map[types.ID]map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAvailability stores the driver's own availability entry.
func (s *Service) SetAvailability(ctx context.Context, a Availability) error {
	if a.DriverID == "" {
		return fmt.Errorf("driver id: %w", types.ErrInvalidParameter)
	}
	if a.Status != StatusAvailable && a.Status != StatusUnavailable {
		return fmt.Errorf("availability status %q: %w", a.Status, types.ErrInvalidParameter)
	}
	if a.Location != nil {
		if err := geo.ValidatePoint(*a.Location); err != nil {
			return err
		}
	}
	a.UpdatedAt = s.now().UTC()
	if err := s.avail.Set(ctx, a); err != nil {
		return err
	}
	s.syncIndex(ctx, a)
	return nil
}

// UpdatePosition refreshes the driver's current location, keeping the rest
// of the entry.
func (s *Service) UpdatePosition(ctx context.Context, driverID types.ID, p types.Point) error {
	a, err := s.avail.Get(ctx, driverID)
	if err != nil {
		return err
	}
	a.Location = &p
	return s.SetAvailability(ctx, a)
}

func (s *Service) Availability(ctx context.Context, driverID types.ID) (Availability, error) {
	return s.avail.Get(ctx, driverID)
}

func (s *Service) syncIndex(ctx context.Context, a Availability) {
	if s.index == nil {
		return
	}
	var err error
	if a.Eligible() {
		err = s.index.Upsert(ctx, a.DriverID, *a.Location)
	} else {
		err = s.index.Remove(ctx, a.DriverID)
	}
	if err != nil {
		s.log.Warn("driver index update failed", logger.DriverID(a.DriverID), logger.Err(err))
	}
}

func (s *Service) radius(radiusKm float64) (float64, error) {
	switch {
	case math.IsNaN(radiusKm) || radiusKm < 0:
		return 0, fmt.Errorf("radius %v: %w", radiusKm, types.ErrInvalidParameter)
	case radiusKm == 0:
		return s.cfg.RadiusKm, nil
	}
	return radiusKm, nil
}

// Search returns open rides within radiusKm of the driver, nearest first.
// A zero radius uses the configured default. Drivers that are unknown,
// unavailable, unverified or without a position get an empty list.
func (s *Service) Search(ctx context.Context, driverID types.ID, radiusKm float64) ([]Candidate, error) {
	radius, err := s.radius(radiusKm)
	if err != nil {
		return nil, err
	}
	a, err := s.avail.Get(ctx, driverID)
	if errors.Is(err, types.ErrNotFound) {
		return []Candidate{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !a.Eligible() {
		return []Candidate{}, nil
	}
	rides, err := s.rides.Query(ctx, ride.Filter{Status: ride.StatusRequested})
	if err != nil {
		return nil, fmt.Errorf("querying open rides: %w", err)
	}
	rejected, err := s.rejected(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("loading rejections: %w", err)
	}
	out := Rank(*a.Location, rides, radius, rejected, driverID)
	observability.SearchResults.Observe(float64(len(out)))
	return out, nil
}

func (s *Service) rejected(ctx context.Context, driverID types.ID) (map[types.ID]struct{}, error) {
	var since time.Time
	if s.cfg.RejectionWindow > 0 {
		since = s.now().Add(-s.cfg.RejectionWindow)
	}
	return s.rejections.Rejected(ctx, driverID, since)
}

// Rank filters rides to open ones the driver may take within radiusKm of
// pos and sorts them by distance to the pickup.
func Rank(pos types.Point, rides []ride.RideRequest, radiusKm float64, rejected map[types.ID]struct{}, driverID types.ID) []Candidate {
	cells, precision := geo.Neighborhood(pos, radiusKm)
	out := make([]Candidate, 0, len(rides))
	for _, r := range rides {
		if r.Status != ride.StatusRequested {
			continue
		}
		if _, ok := rejected[r.ID]; ok {
			continue
		}
		if r.PreferredDriverID != "" && r.PreferredDriverID != driverID {
			continue
		}
		if !geo.InNeighborhood(cells, precision, r.OriginGeohash) {
			continue
		}
		if !geo.WithinRadius(pos, r.Origin, radiusKm) {
			continue
		}
		out = append(out, Candidate{Ride: *r.Clone(), DistanceKm: geo.DistanceKm(pos, r.Origin)})
	}
	geo.SortByDistance(out, func(c Candidate) float64 { return c.DistanceKm })
	return out
}

// RecordRejection hides rideID from the driver for the rejection window and
// refreshes the driver's open watches.
func (s *Service) RecordRejection(ctx context.Context, driverID, rideID types.ID) error {
	if err := s.rejections.Record(ctx, driverID, rideID, s.now()); err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}
	s.mu.Lock()
	for ch := range s.watches[driverID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	return nil
}

// AvailableNear lists eligible drivers around p, closest first.
func (s *Service) AvailableNear(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	radius, err := s.radius(radiusKm)
	if err != nil {
		return nil, err
	}
	if s.index != nil {
		ids, err := s.index.Nearby(ctx, p, radius)
		if err == nil {
			return ids, nil
		}
		s.log.Warn("driver index lookup failed, falling back to store", logger.Err(err))
	}
	return s.avail.AvailableNear(ctx, p, radius)
}

// Watch streams the driver's ranked candidates. The list is recomputed when
// open rides change, when the driver becomes eligible or moves at least
// PositionThresholdM, and after the driver rejects a ride. The stream closes
// when ctx is done or either underlying feed ends.
func (s *Service) Watch(ctx context.Context, driverID types.ID, radiusKm float64) (*feed.Latest[[]Candidate], error) {
	radius, err := s.radius(radiusKm)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	rideSub, err := s.rides.Subscribe(ctx, ride.Filter{Status: ride.StatusRequested})
	if err != nil {
		cancel()
		return nil, err
	}
	availSub, err := s.avail.Subscribe(ctx, driverID)
	if err != nil {
		cancel()
		return nil, err
	}

	nudge := make(chan struct{}, 1)
	s.mu.Lock()
	if s.watches[driverID] == nil {
		s.watches[driverID] = make(map[chan struct{}]struct{})
	}
	s.watches[driverID][nudge] = struct{}{}
	s.mu.Unlock()

	out := feed.NewLatest[[]Candidate]()
	w := &watch{svc: s, driverID: driverID, radius: radius, out: out}
	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.watches[driverID], nudge)
			if len(s.watches[driverID]) == 0 {
				delete(s.watches, driverID)
			}
			s.mu.Unlock()
			out.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-out.Done():
				return
			case snap, ok := <-rideSub.C():
				if !ok {
					return
				}
				w.rides, w.haveRides = snap.Rides, true
				w.run(ctx)
			case a, ok := <-availSub.C():
				if !ok {
					return
				}
				if w.availabilityChanged(a) {
					w.run(ctx)
				}
			case <-nudge:
				w.run(ctx)
			}
		}
	}()
	return out, nil
}

type watch struct {
	svc       *Service
	driverID  types.ID
	radius    float64
	out       *feed.Latest[[]Candidate]
	rides     []ride.RideRequest
	haveRides bool
	avail     Availability
	haveAvail bool
	// ranFrom is the position the current list was computed from.
	ranFrom   *types.Point
	last      []Candidate
	published bool
}

// availabilityChanged stores a and reports whether the candidate list
// needs recomputing.
func (w *watch) availabilityChanged(a Availability) bool {
	prev, had := w.avail, w.haveAvail
	w.avail, w.haveAvail = a, true
	if !had || prev.Eligible() != a.Eligible() {
		return true
	}
	if !a.Eligible() || w.ranFrom == nil {
		return false
	}
	return geo.DistanceKm(*w.ranFrom, *a.Location)*1000 >= w.svc.cfg.PositionThresholdM
}

func (w *watch) run(ctx context.Context) {
	if !w.haveRides || !w.haveAvail {
		return
	}
	next := []Candidate{}
	w.ranFrom = nil
	if w.avail.Eligible() {
		rejected, err := w.svc.rejected(ctx, w.driverID)
		if err != nil {
			if ctx.Err() == nil {
				w.svc.log.Warn("loading rejections failed", logger.DriverID(w.driverID), logger.Err(err))
			}
			return
		}
		pos := *w.avail.Location
		w.ranFrom = &pos
		next = Rank(pos, w.rides, w.radius, rejected, w.driverID)
	}
	if w.published && reflect.DeepEqual(w.last, next) {
		return
	}
	w.last, w.published = next, true
	observability.SearchResults.Observe(float64(len(next)))
	w.out.Publish(next)
}

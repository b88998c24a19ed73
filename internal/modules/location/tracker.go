// README: Location tracker publishes the driver's position for one active ride.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridelink/internal/geo"
	"ridelink/internal/logger"
	"ridelink/internal/maps"
	"ridelink/internal/modules/ride"
	"ridelink/internal/observability"
	"ridelink/internal/types"
)

// Publisher is the additive location write on the live ride.
type Publisher interface {
	PublishLocation(ctx context.Context, rideID, driverID types.ID, u ride.LocationUpdate) (ride.Status, error)
}

// AdvanceFunc moves a started ride to in_progress once it is en route.
type AdvanceFunc func(ctx context.Context, rideID, driverID types.ID) error

type Router interface {
	Route(ctx context.Context, from, to types.Point) (maps.Route, error)
}

// Sink receives every published fix, e.g. for telemetry.
type Sink interface {
	Record(ctx context.Context, driverID, rideID types.ID, loc ride.DriverLocation) error
}

type Config struct {
	// Interval and MinDistanceM set the cadence; whichever is reached first
	// triggers a publish.
	Interval        time.Duration
	MinDistanceM    float64
	PollInterval    time.Duration
	AvgSpeedKmh     float64
	ArrivalRadiusKm float64
}

type Option func(*Tracker)

func WithAdvancer(f AdvanceFunc) Option { return func(t *Tracker) { t.advance = f } }

// WithRouter makes ETAs use live traffic. Routing failures fall back to the
// straight-line estimate.
func WithRouter(r Router) Option { return func(t *Tracker) { t.router = r } }

func WithSinks(s ...Sink) Option { return func(t *Tracker) { t.sinks = append(t.sinks, s...) } }

func WithNotifier(n ride.Notifier) Option { return func(t *Tracker) { t.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.log = logger.OrNop(l) } }

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// minCourseM is the least movement between published fixes from which a
// missing device heading is derived.
const minCourseM = 5

// Tracker follows at most one ride at a time for one driver.
type Tracker struct {
	driverID types.ID
	src      PositionSource
	pub      Publisher
	cfg      Config

	advance  AdvanceFunc
	router   Router
	sinks    []Sink
	notifier ride.Notifier
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	active *session
}

// session is the state of one tracked ride.
type session struct {
	mu      sync.Mutex
	ride    ride.RideRequest
	status  ride.Status
	last    *ride.DriverLocation
	lastAt  time.Time
	arrived bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(driverID types.ID, src PositionSource, pub Publisher, cfg Config, opts ...Option) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.AvgSpeedKmh <= 0 {
		cfg.AvgSpeedKmh = 30
	}
	t := &Tracker{
		driverID: driverID,
		src:      src,
		pub:      pub,
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins tracking r. Starting the ride already tracked is a no-op.
func (t *Tracker) Start(ctx context.Context, r ride.RideRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		if t.active.ride.ID == r.ID {
			return nil
		}
		return fmt.Errorf("tracking ride %s, cannot start %s: %w", t.active.ride.ID, r.ID, types.ErrAlreadyTracking)
	}
	if !r.Status.Active() {
		return fmt.Errorf("ride %s is %s: %w", r.ID, r.Status, types.ErrInvalidState)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{ride: r, status: r.Status, cancel: cancel, done: make(chan struct{})}
	t.active = s
	go t.loop(loopCtx, s)
	t.log.Info("tracking started", logger.RideID(r.ID), logger.DriverID(t.driverID))
	return nil
}

// Stop ends tracking of rideID. It is a no-op when that ride is not tracked.
func (t *Tracker) Stop(rideID types.ID) {
	t.mu.Lock()
	s := t.active
	if s == nil || s.ride.ID != rideID {
		t.mu.Unlock()
		return
	}
	t.active = nil
	t.mu.Unlock()

	s.cancel()
	<-s.done
	t.log.Info("tracking stopped", logger.RideID(rideID), logger.DriverID(t.driverID))
}

func (t *Tracker) Tracking() (types.ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return "", false
	}
	return t.active.ride.ID, true
}

// Flush publishes the latest sample immediately, ignoring the cadence.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	s := t.active
	t.mu.Unlock()
	if s == nil {
		return types.ErrNotTracking
	}
	sample, ok := t.src.Latest()
	if !ok {
		return fmt.Errorf("%w: no position available", types.ErrInvalidParameter)
	}
	return t.step(ctx, s, sample, true)
}

func (t *Tracker) loop(ctx context.Context, s *session) {
	defer close(s.done)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if sample, ok := t.src.Latest(); ok {
			if err := t.step(ctx, s, sample, false); err != nil && ctx.Err() == nil {
				t.log.Debug("sample skipped", logger.RideID(s.ride.ID), logger.Err(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step publishes sample if it is due. Publish failures are logged and the
// sample is skipped; a ride that can no longer be tracked ends the session.
func (t *Tracker) step(ctx context.Context, s *session, sample Sample, force bool) error {
	fix, err := sample.Fix()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := t.now()
	if s.last != nil {
		if fix.Timestamp.Before(s.last.Timestamp) {
			return fmt.Errorf("%w: sample older than last published", types.ErrInvalidParameter)
		}
		movedM := geo.DistanceKm(s.last.Point(), fix.Point()) * 1000
		due := now.Sub(s.lastAt) >= t.cfg.Interval || (t.cfg.MinDistanceM > 0 && movedM >= t.cfg.MinDistanceM)
		if !due && !force {
			return nil
		}
		if fix.Heading == nil && movedM >= minCourseM {
			course := geo.BearingDeg(s.last.Point(), fix.Point())
			fix.Heading = &course
		}
	}

	update := t.buildUpdate(ctx, s, fix)
	status, err := t.pub.PublishLocation(ctx, s.ride.ID, t.driverID, update)
	switch {
	case errors.Is(err, types.ErrInvalidState), errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrForbidden):
		observability.LocationPublishes.WithLabelValues("stopped").Inc()
		t.log.Info("ride no longer trackable", logger.RideID(s.ride.ID), logger.Err(err))
		t.detach(s)
		return err
	case err != nil:
		observability.LocationPublishes.WithLabelValues("error").Inc()
		t.log.Warn("location publish failed", logger.RideID(s.ride.ID), logger.Err(err))
		return err
	}
	observability.LocationPublishes.WithLabelValues("ok").Inc()

	s.last = &fix
	s.lastAt = now
	s.status = status

	for _, sink := range t.sinks {
		if err := sink.Record(ctx, t.driverID, s.ride.ID, fix); err != nil {
			t.log.Warn("location sink failed", logger.RideID(s.ride.ID), logger.Err(err))
		}
	}
	t.checkArrival(ctx, s, update)
	t.advanceIfStarted(ctx, s)
	return nil
}

func (t *Tracker) buildUpdate(ctx context.Context, s *session, fix ride.DriverLocation) ride.LocationUpdate {
	remaining := geo.DistanceKm(fix.Point(), s.ride.Destination)
	u := ride.LocationUpdate{Location: fix, DistanceRemainingKm: &remaining}

	if eta, ok := t.routeETA(ctx, fix.Point(), s.ride.Destination); ok {
		u.EtaMinutes = &eta
	} else if eta, err := geo.EstimateEtaMinutes(remaining, t.cfg.AvgSpeedKmh); err == nil {
		u.EtaMinutes = &eta
	}
	if s.status == ride.StatusAccepted {
		pickup := geo.DistanceKm(fix.Point(), s.ride.Origin)
		u.PickupDistanceKm = &pickup
	}
	return u
}

func (t *Tracker) routeETA(ctx context.Context, from, to types.Point) (float64, bool) {
	if t.router == nil {
		return 0, false
	}
	route, err := t.router.Route(ctx, from, to)
	if err != nil {
		t.log.Debug("routing unavailable, using straight-line eta", logger.Err(err))
		return 0, false
	}
	sec := route.DurationWithTrafficSec
	if sec <= 0 {
		sec = route.DurationSec
	}
	if sec <= 0 {
		return 0, false
	}
	return sec / 60, true
}

// checkArrival tells the rider once when the driver reaches the pickup.
func (t *Tracker) checkArrival(ctx context.Context, s *session, u ride.LocationUpdate) {
	if t.notifier == nil || s.arrived || s.status != ride.StatusAccepted || t.cfg.ArrivalRadiusKm <= 0 {
		return
	}
	if u.PickupDistanceKm == nil || *u.PickupDistanceKm > t.cfg.ArrivalRadiusKm {
		return
	}
	s.arrived = true
	t.notifier.Notify(ctx, s.ride.RiderID, "Your driver has arrived", "Meet your driver at the pickup point",
		map[string]string{"rideId": string(s.ride.ID), "type": "driver_arrived"})
}

func (t *Tracker) advanceIfStarted(ctx context.Context, s *session) {
	if t.advance == nil || s.status != ride.StatusStarted {
		return
	}
	err := t.advance(ctx, s.ride.ID, t.driverID)
	switch {
	case err == nil:
		s.status = ride.StatusInProgress
	case errors.Is(err, types.ErrConflict):
		// already advanced elsewhere; the next publish reports the real status
	default:
		t.log.Warn("auto-advance to in_progress failed", logger.RideID(s.ride.ID), logger.Err(err))
	}
}

// detach ends s without waiting for its loop, which may be the caller.
func (t *Tracker) detach(s *session) {
	t.mu.Lock()
	if t.active == s {
		t.active = nil
	}
	t.mu.Unlock()
	s.cancel()
}

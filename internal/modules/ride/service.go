// README: Ride lifecycle service implements state transitions on the live store.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridelink/internal/geo"
	"ridelink/internal/logger"
	"ridelink/internal/modules/pricing"
	"ridelink/internal/observability"
	"ridelink/internal/types"
)

type Quoter interface {
	Quote(ctx context.Context, origin, destination types.Point, at time.Time) (pricing.Quote, error)
}

// HistoryMirror projects live rides into the durable history. Write failures
// are handled inside the mirror and never reach the lifecycle.
type HistoryMirror interface {
	Record(ctx context.Context, r RideRequest)
	Sync(ctx context.Context, r RideRequest)
	// Reconcile writes the full terminal snapshot.
	Reconcile(ctx context.Context, r RideRequest)
	Rate(ctx context.Context, rideID types.ID, stars int, feedback string) error
}

// Notifier is fire-and-forget; delivery is never awaited.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string)
}

type RejectionRecorder interface {
	RecordRejection(ctx context.Context, driverID, rideID types.ID) error
}

type DriverLocator interface {
	AvailableNear(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

type Config struct {
	RadiusKm      float64
	AcceptTimeout time.Duration
}

type Deps struct {
	Store      LiveStore
	Quoter     Quoter
	History    HistoryMirror
	Notifier   Notifier
	Events     EventLog
	Rejections RejectionRecorder
	Drivers    DriverLocator
	Log        *zap.Logger
	Now        func() time.Time
}

type Service struct {
	store      LiveStore
	quoter     Quoter
	history    HistoryMirror
	notifier   Notifier
	events     EventLog
	rejections RejectionRecorder
	drivers    DriverLocator
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	s := &Service{
		store:      d.Store,
		quoter:     d.Quoter,
		history:    d.History,
		notifier:   d.Notifier,
		events:     d.Events,
		rejections: d.Rejections,
		drivers:    d.Drivers,
		cfg:        cfg,
		log:        logger.OrNop(d.Log),
		now:        d.Now,
	}
	if s.history == nil {
		s.history = nopHistory{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.events == nil {
		s.events = NewMemoryEventLog()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.RadiusKm <= 0 {
		s.cfg.RadiusKm = 50
	}
	if s.cfg.AcceptTimeout <= 0 {
		s.cfg.AcceptTimeout = 3 * time.Minute
	}
	return s
}

type RequestCommand struct {
	// RideID is an optional client idempotency key.
	RideID            types.ID
	RiderName         string
	Origin            types.Point
	Destination       types.Point
	OriginLabel       string
	DestinationLabel  string
	ScheduledFor      *time.Time
	PreferredDriverID types.ID
}

func (s *Service) Quote(ctx context.Context, origin, destination types.Point) (pricing.Quote, error) {
	return s.quoter.Quote(ctx, origin, destination, s.now())
}

// Request prices and creates a ride. Repeating a request with the same id is a
// no-op for the rider who created it.
func (s *Service) Request(ctx context.Context, sess *Session, cmd RequestCommand) (*RideRequest, error) {
	if sess.Role != RoleRider {
		return nil, fmt.Errorf("only riders can request rides: %w", types.ErrForbidden)
	}
	if err := geo.ValidatePoint(cmd.Origin); err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if err := geo.ValidatePoint(cmd.Destination); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if cmd.RideID != "" {
		existing, err := s.store.Read(ctx, cmd.RideID)
		switch {
		case err == nil:
			return s.sameRider(existing, sess.ActorID)
		case !errors.Is(err, types.ErrNotFound):
			return nil, err
		}
	}

	now := s.now()
	quote, err := s.quoter.Quote(ctx, cmd.Origin, cmd.Destination, now)
	if err != nil {
		return nil, err
	}

	id := cmd.RideID
	if id == "" {
		id = types.ID(uuid.NewString())
	}
	r := &RideRequest{
		ID:                id,
		RiderID:           sess.ActorID,
		RiderName:         cmd.RiderName,
		Origin:            cmd.Origin,
		Destination:       cmd.Destination,
		OriginLabel:       cmd.OriginLabel,
		DestinationLabel:  cmd.DestinationLabel,
		OriginGeohash:     geo.Encode(cmd.Origin, geo.StoredPrecision),
		RequestedAt:       now,
		ScheduledFor:      cloneTime(cmd.ScheduledFor),
		DistanceKm:        quote.DistanceKm,
		DurationSec:       quote.DurationSec,
		TrafficFactor:     quote.TrafficFactor,
		FareAmount:        quote.Amount,
		Currency:          quote.Currency,
		Status:            StatusRequested,
		PreferredDriverID: cmd.PreferredDriverID,
	}
	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, types.ErrAlreadyExists) {
			existing, rerr := s.store.Read(ctx, id)
			if rerr != nil {
				return nil, err
			}
			return s.sameRider(existing, sess.ActorID)
		}
		return nil, err
	}

	s.recordTransition(ctx, StatusNone, r, sess.ActorID)
	s.history.Record(ctx, *r)
	s.offer(ctx, *r)
	return r, nil
}

func (s *Service) sameRider(r *RideRequest, rider types.ID) (*RideRequest, error) {
	if r.RiderID != rider {
		return nil, alreadyExists(r.ID)
	}
	return r, nil
}

// offer notifies candidate drivers in the background.
func (s *Service) offer(ctx context.Context, r RideRequest) {
	data := map[string]string{"rideId": string(r.ID), "type": "ride_request"}
	body := fmt.Sprintf("%.1f km trip, fare %.2f %s", r.DistanceKm, r.FareAmount, r.Currency)
	if r.PreferredDriverID != "" {
		s.notifier.Notify(ctx, r.PreferredDriverID, "New ride request", body, data)
		return
	}
	if s.drivers == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		ids, err := s.drivers.AvailableNear(ctx, r.Origin, s.cfg.RadiusKm)
		if err != nil {
			s.log.Warn("driver lookup for ride offer failed", logger.RideID(r.ID), logger.Err(err))
			return
		}
		for _, id := range ids {
			s.notifier.Notify(ctx, id, "New ride request", body, data)
		}
	}()
}

func (s *Service) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	return s.store.Read(ctx, id)
}

// Timeline lists the ride's recorded transitions. Only the rider and drivers
// who acted on the ride may read it.
func (s *Service) Timeline(ctx context.Context, sess *Session, id types.ID) ([]Event, error) {
	r, err := s.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.ActorID == r.RiderID || sess.ActorID == r.DriverID {
		return events, nil
	}
	for _, e := range events {
		if e.ActorID == sess.ActorID {
			return events, nil
		}
	}
	return nil, fmt.Errorf("not a party to ride %s: %w", id, types.ErrForbidden)
}

// Accept claims a requested ride for the session's driver. The transition is
// followed by a verification read; if another driver's write landed, local
// tracking is rolled back and the caller gets ErrConflict.
func (s *Service) Accept(ctx context.Context, sess *Session, id types.ID) (*RideRequest, error) {
	if sess.Role != RoleDriver {
		return nil, fmt.Errorf("only drivers can accept rides: %w", types.ErrForbidden)
	}
	if active, ok := sess.ActiveRide(); ok && active != id {
		return nil, fmt.Errorf("driver already has active ride %s: %w", active, types.ErrInvalidState)
	}

	now := s.now()
	profile := sess.Profile()
	fix := sess.LastFix()
	updated, err := s.store.TryTransition(ctx, id, StatusRequested, func(r *RideRequest) error {
		if r.PreferredDriverID != "" && r.PreferredDriverID != sess.ActorID {
			return fmt.Errorf("ride %s is offered to another driver: %w", id, types.ErrForbidden)
		}
		r.Status = StatusAccepted
		r.DriverID = sess.ActorID
		r.DriverName = profile.Name
		r.DriverPhone = profile.Phone
		r.VehicleInfo = profile.VehicleInfo
		if fix != nil {
			r.DriverLocation = fix
			d := geo.DistanceKm(fix.Point(), r.Origin)
			r.PickupDistanceKm = &d
		}
		r.AcceptedAt = &now
		return nil
	})
	if errors.Is(err, types.ErrConflict) {
		observability.AcceptConflicts.Inc()
		s.log.Info("accept lost race", logger.RideID(id), logger.DriverID(sess.ActorID))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	sess.setActive(id)
	if sess.Tracker != nil {
		if err := sess.Tracker.Start(ctx, *updated); err != nil {
			s.log.Warn("tracker start failed", logger.RideID(id), logger.Err(err))
		}
	}

	cur, err := s.store.Read(ctx, id)
	switch {
	case err != nil:
		s.log.Warn("accept verification read failed", logger.RideID(id), logger.Err(err))
	case cur.DriverID != sess.ActorID:
		sess.release(id)
		observability.AcceptRollbacks.Inc()
		s.log.Warn("accept overwritten, rolled back",
			logger.RideID(id), logger.DriverID(sess.ActorID), logger.String("winner", string(cur.DriverID)))
		return nil, fmt.Errorf("ride %s was taken by another driver: %w", id, types.ErrConflict)
	}

	s.recordTransition(ctx, StatusRequested, updated, sess.ActorID)
	s.history.Sync(ctx, *updated)
	s.notifier.Notify(ctx, updated.RiderID, "Driver on the way",
		fmt.Sprintf("%s is coming to pick you up", displayName(profile.Name)),
		map[string]string{"rideId": string(id), "status": string(StatusAccepted)})
	return updated, nil
}

// Reject declines a requested ride. A targeted ride ends as rejected; an open
// ride is only hidden from this driver.
func (s *Service) Reject(ctx context.Context, sess *Session, id types.ID) (*RideRequest, error) {
	if sess.Role != RoleDriver {
		return nil, fmt.Errorf("only drivers can reject rides: %w", types.ErrForbidden)
	}
	r, err := s.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusRequested {
		return nil, conflict(id, StatusRequested, r.Status)
	}

	if r.PreferredDriverID == sess.ActorID {
		now := s.now()
		updated, err := s.store.TryTransition(ctx, id, StatusRequested, func(r *RideRequest) error {
			r.Status = StatusRejected
			r.RejectedAt = &now
			r.RejectedBy = sess.ActorID
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.recordTransition(ctx, StatusRequested, updated, sess.ActorID)
		s.history.Reconcile(ctx, *updated)
		s.notifier.Notify(ctx, updated.RiderID, "Ride declined", "Your driver could not take this ride",
			map[string]string{"rideId": string(id), "status": string(StatusRejected)})
		return updated, nil
	}

	if s.rejections != nil {
		if err := s.rejections.RecordRejection(ctx, sess.ActorID, id); err != nil {
			return nil, fmt.Errorf("record rejection: %w", err)
		}
	}
	return r, nil
}

func (s *Service) Start(ctx context.Context, sess *Session, id types.ID) (*RideRequest, error) {
	now := s.now()
	updated, err := s.driverTransition(ctx, sess, id, StatusAccepted, func(r *RideRequest) {
		r.Status = StatusStarted
		r.RideStartedAt = &now
		r.PickupDistanceKm = nil
	})
	if err != nil {
		return nil, err
	}
	sess.setActive(id)
	if sess.Tracker != nil {
		if err := sess.Tracker.Start(ctx, *updated); err != nil {
			s.log.Warn("tracker start failed", logger.RideID(id), logger.Err(err))
		}
	}
	s.history.Sync(ctx, *updated)
	s.notifier.Notify(ctx, updated.RiderID, "Trip started", "Enjoy your ride",
		map[string]string{"rideId": string(id), "status": string(StatusStarted)})
	return updated, nil
}

// MarkInProgress moves a started ride to in_progress. The tracker calls it
// after the first published sample; drivers may also call it directly.
func (s *Service) MarkInProgress(ctx context.Context, id, driverID types.ID) (*RideRequest, error) {
	updated, err := s.store.TryTransition(ctx, id, StatusStarted, func(r *RideRequest) error {
		if r.DriverID != driverID {
			return fmt.Errorf("ride %s is assigned to another driver: %w", id, types.ErrForbidden)
		}
		r.Status = StatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, StatusStarted, updated, driverID)
	s.history.Sync(ctx, *updated)
	return updated, nil
}

func (s *Service) Progress(ctx context.Context, sess *Session, id types.ID) (*RideRequest, error) {
	if sess.Role != RoleDriver {
		return nil, fmt.Errorf("only drivers can advance rides: %w", types.ErrForbidden)
	}
	return s.MarkInProgress(ctx, id, sess.ActorID)
}

func (s *Service) Complete(ctx context.Context, sess *Session, id types.ID) (*RideRequest, error) {
	now := s.now()
	updated, err := s.driverTransition(ctx, sess, id, StatusInProgress, func(r *RideRequest) {
		r.Status = StatusCompleted
		r.RideCompletedAt = &now
		r.PickupDistanceKm = nil
	})
	if err != nil {
		return nil, err
	}
	sess.release(id)
	s.history.Reconcile(ctx, *updated)
	s.notifier.Notify(ctx, updated.RiderID, "Trip completed",
		fmt.Sprintf("Fare %.2f %s. Rate your driver", updated.FareAmount, updated.Currency),
		map[string]string{"rideId": string(id), "status": string(StatusCompleted), "action": "rate"})
	return updated, nil
}

// Cancel ends any non-terminal ride on behalf of its rider or assigned driver.
func (s *Service) Cancel(ctx context.Context, sess *Session, id types.ID, reason string) (*RideRequest, error) {
	r, err := s.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, fmt.Errorf("ride %s is already %s: %w", id, r.Status, types.ErrConflict)
	}
	if sess.ActorID != r.RiderID && sess.ActorID != r.DriverID {
		return nil, fmt.Errorf("not a party to ride %s: %w", id, types.ErrForbidden)
	}

	from := r.Status
	driverID := r.DriverID
	now := s.now()
	updated, err := s.store.TryTransition(ctx, id, from, func(r *RideRequest) error {
		r.Status = StatusCancelled
		r.CancelledAt = &now
		r.CancelledBy = sess.ActorID
		r.CancelReason = reason
		r.clearDriver()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sess.release(id)
	s.recordTransition(ctx, from, updated, sess.ActorID)
	s.history.Reconcile(ctx, *updated)

	data := map[string]string{"rideId": string(id), "status": string(StatusCancelled)}
	switch {
	case sess.ActorID == updated.RiderID && driverID != "":
		s.notifier.Notify(ctx, driverID, "Ride cancelled", "The rider cancelled this ride", data)
	case sess.ActorID == driverID:
		s.notifier.Notify(ctx, updated.RiderID, "Ride cancelled", "Your driver cancelled this ride", data)
	}
	return updated, nil
}

// AwaitAcceptance waits for a requested ride to leave the requested state.
// Running out of time yields ErrNoDriverFound; the ride itself is untouched.
func (s *Service) AwaitAcceptance(ctx context.Context, id types.ID, timeout time.Duration) (*RideRequest, error) {
	if timeout <= 0 {
		timeout = s.cfg.AcceptTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := s.store.Subscribe(ctx, Filter{RideID: id})
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return nil, feedClosed(ctx, id)
			}
			if len(snap.Rides) == 0 {
				return nil, notFound(id)
			}
			if r := snap.Rides[0]; r.Status != StatusRequested {
				return &r, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("ride %s not accepted within %s: %w", id, timeout, types.ErrNoDriverFound)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WatchActive follows the session's active ride and releases the session once
// the ride ends or is no longer assigned to it. It returns nil on release.
func (s *Service) WatchActive(ctx context.Context, sess *Session) error {
	id, ok := sess.ActiveRide()
	if !ok {
		return fmt.Errorf("no active ride: %w", types.ErrInvalidState)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := s.store.Subscribe(ctx, Filter{RideID: id})
	if err != nil {
		return err
	}
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return feedClosed(ctx, id)
			}
			if len(snap.Rides) > 0 {
				r := snap.Rides[0]
				if !r.Status.Terminal() && (sess.Role != RoleDriver || r.DriverID == sess.ActorID) {
					continue
				}
				s.log.Info("active ride ended", logger.RideID(id), logger.String("status", string(r.Status)))
			}
			sess.release(id)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) Rate(ctx context.Context, sess *Session, id types.ID, stars int, feedback string) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("%w: stars must be between 1 and 5, got %d", types.ErrInvalidParameter, stars)
	}
	r, err := s.store.Read(ctx, id)
	if err != nil {
		return err
	}
	if r.RiderID != sess.ActorID {
		return fmt.Errorf("only the rider can rate ride %s: %w", id, types.ErrForbidden)
	}
	if r.Status != StatusCompleted {
		return fmt.Errorf("ride %s is %s, only completed rides can be rated: %w", id, r.Status, types.ErrInvalidState)
	}
	return s.history.Rate(ctx, id, stars, feedback)
}

func (s *Service) driverTransition(ctx context.Context, sess *Session, id types.ID, from Status, apply func(r *RideRequest)) (*RideRequest, error) {
	if sess.Role != RoleDriver {
		return nil, fmt.Errorf("only drivers can advance rides: %w", types.ErrForbidden)
	}
	updated, err := s.store.TryTransition(ctx, id, from, func(r *RideRequest) error {
		if r.DriverID != sess.ActorID {
			return fmt.Errorf("ride %s is assigned to another driver: %w", id, types.ErrForbidden)
		}
		apply(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, from, updated, sess.ActorID)
	return updated, nil
}

func (s *Service) recordTransition(ctx context.Context, from Status, r *RideRequest, actor types.ID) {
	observability.Transitions.WithLabelValues(string(from), string(r.Status)).Inc()
	err := s.events.AppendEvent(ctx, &Event{
		RideID:     r.ID,
		FromStatus: from,
		ToStatus:   r.Status,
		ActorID:    actor,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("append ride event failed", logger.RideID(r.ID), logger.Err(err))
	}
}

func displayName(name string) string {
	if name == "" {
		return "Your driver"
	}
	return name
}

type nopHistory struct{}

func (nopHistory) Record(context.Context, RideRequest)    {}
func (nopHistory) Sync(context.Context, RideRequest)      {}
func (nopHistory) Reconcile(context.Context, RideRequest) {}
func (nopHistory) Rate(context.Context, types.ID, int, string) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, types.ID, string, string, map[string]string) {}

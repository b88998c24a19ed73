// README: Live ride store on Firebase RTDB; guarded writes run as RTDB transactions.
package ride

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"

	"ridelink/internal/feed"
	"ridelink/internal/logger"
	"ridelink/internal/types"
)

const ridesPath = "rides"

// FirebaseStore keeps one document per ride under /rides/{id}. The Admin SDK
// has no listeners, so Subscribe polls the query and publishes changes.
type FirebaseStore struct {
	client *db.Client
	poll   time.Duration
	log    *zap.Logger
}

func NewFirebaseStore(client *db.Client, poll time.Duration, log *zap.Logger) *FirebaseStore {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &FirebaseStore{client: client, poll: poll, log: logger.OrNop(log)}
}

// ---------------------------------------------------------------------------
// RTDB data model
// ---------------------------------------------------------------------------

// rtdbLocation mirrors driverLocation; timestamps are epoch milliseconds.
type rtdbLocation struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Timestamp int64    `json:"timestamp"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

type rtdbRide struct {
	ID                  string        `json:"id"`
	RiderID             string        `json:"riderId"`
	RiderName           string        `json:"riderName"`
	Origin              types.Point   `json:"origin"`
	Destination         types.Point   `json:"destination"`
	OriginLabel         string        `json:"originLabel,omitempty"`
	DestinationLabel    string        `json:"destinationLabel,omitempty"`
	OriginGeohash       string        `json:"originGeohash,omitempty"`
	RequestedAt         int64         `json:"requestedAt"`
	ScheduledFor        *int64        `json:"scheduledFor,omitempty"`
	DistanceKm          float64       `json:"distanceKm"`
	DurationSec         float64       `json:"durationSec"`
	TrafficFactor       float64       `json:"trafficFactor"`
	FareAmount          float64       `json:"fareAmount"`
	Currency            string        `json:"currency,omitempty"`
	Status              string        `json:"status"`
	PreferredDriverID   string        `json:"preferredDriverId,omitempty"`
	DriverID            string        `json:"driverId,omitempty"`
	DriverName          string        `json:"driverName,omitempty"`
	DriverPhone         string        `json:"driverPhone,omitempty"`
	VehicleInfo         string        `json:"vehicleInfo,omitempty"`
	DriverLocation      *rtdbLocation `json:"driverLocation,omitempty"`
	DistanceRemainingKm *float64      `json:"distanceRemaining,omitempty"`
	EtaMinutes          *float64      `json:"etaMinutes,omitempty"`
	PickupDistanceKm    *float64      `json:"pickupDistance,omitempty"`
	AcceptedAt          *int64        `json:"acceptedAt,omitempty"`
	RideStartedAt       *int64        `json:"rideStartedAt,omitempty"`
	RideCompletedAt     *int64        `json:"rideCompletedAt,omitempty"`
	CancelledAt         *int64        `json:"cancelledAt,omitempty"`
	CancelledBy         string        `json:"cancelledBy,omitempty"`
	CancelReason        string        `json:"cancelReason,omitempty"`
	RejectedAt          *int64        `json:"rejectedAt,omitempty"`
	RejectedBy          string        `json:"rejectedBy,omitempty"`
}

// ---------------------------------------------------------------------------
// LiveStore
// ---------------------------------------------------------------------------

func (s *FirebaseStore) Create(ctx context.Context, r *RideRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	doc := toRTDB(r)
	err := s.rideRef(r.ID).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var cur *rtdbRide
		if err := tn.Unmarshal(&cur); err != nil {
			return nil, err
		}
		if cur != nil {
			return nil, alreadyExists(r.ID)
		}
		return doc, nil
	})
	if err != nil {
		return fmt.Errorf("create ride %s: %w", r.ID, err)
	}
	return nil
}

func (s *FirebaseStore) Read(ctx context.Context, id types.ID) (*RideRequest, error) {
	var doc *rtdbRide
	if err := s.rideRef(id).Get(ctx, &doc); err != nil {
		return nil, fmt.Errorf("read ride %s: %w", id, err)
	}
	if doc == nil {
		return nil, notFound(id)
	}
	return fromRTDB(doc), nil
}

func (s *FirebaseStore) Query(ctx context.Context, f Filter) ([]RideRequest, error) {
	if f.RideID != "" {
		r, err := s.Read(ctx, f.RideID)
		if errors.Is(err, types.ErrNotFound) {
			return []RideRequest{}, nil
		}
		if err != nil {
			return nil, err
		}
		if !f.Matches(r) {
			return []RideRequest{}, nil
		}
		return []RideRequest{*r}, nil
	}

	var data map[string]*rtdbRide
	ref := s.client.NewRef(ridesPath)
	var err error
	if f.Status != "" {
		err = ref.OrderByChild("status").EqualTo(string(f.Status)).Get(ctx, &data)
	} else {
		err = ref.Get(ctx, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("querying rides: %w", err)
	}

	out := make([]RideRequest, 0, len(data))
	for _, doc := range data {
		if doc == nil {
			continue
		}
		r := fromRTDB(doc)
		if f.Matches(r) {
			out = append(out, *r)
		}
	}
	sortRides(out)
	return out, nil
}

func (s *FirebaseStore) Subscribe(ctx context.Context, f Filter) (*feed.Latest[Snapshot], error) {
	fetch := func(ctx context.Context) (Snapshot, error) {
		rides, err := s.Query(ctx, f)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Rides: rides, At: time.Now()}, nil
	}
	equal := func(a, b Snapshot) bool { return reflect.DeepEqual(a.Rides, b.Rides) }
	onErr := func(err error) { s.log.Warn("ride feed poll failed", logger.Err(err)) }
	return feed.Poll(ctx, s.poll, fetch, equal, onErr), nil
}

func (s *FirebaseStore) TryTransition(ctx context.Context, id types.ID, expected Status, m Mutation) (*RideRequest, error) {
	var result *RideRequest
	err := s.rideRef(id).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var cur *rtdbRide
		if err := tn.Unmarshal(&cur); err != nil {
			return nil, err
		}
		var current *RideRequest
		if cur != nil {
			current = fromRTDB(cur)
		}
		next, err := applyTransition(current, id, expected, m)
		if err != nil {
			return nil, err
		}
		result = next
		return toRTDB(next), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FirebaseStore) PublishLocation(ctx context.Context, id, driverID types.ID, u LocationUpdate) (Status, error) {
	var status Status
	err := s.rideRef(id).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var cur *rtdbRide
		if err := tn.Unmarshal(&cur); err != nil {
			return nil, err
		}
		var current *RideRequest
		if cur != nil {
			current = fromRTDB(cur)
		}
		next, err := applyLocation(current, id, driverID, u)
		if err != nil {
			return nil, err
		}
		status = next.Status
		return toRTDB(next), nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *FirebaseStore) rideRef(id types.ID) *db.Ref {
	return s.client.NewRef(ridesPath).Child(string(id))
}

// ---------------------------------------------------------------------------
// Conversion helpers
// ---------------------------------------------------------------------------

func toRTDB(r *RideRequest) *rtdbRide {
	doc := &rtdbRide{
		ID:                  string(r.ID),
		RiderID:             string(r.RiderID),
		RiderName:           r.RiderName,
		Origin:              r.Origin,
		Destination:         r.Destination,
		OriginLabel:         r.OriginLabel,
		DestinationLabel:    r.DestinationLabel,
		OriginGeohash:       r.OriginGeohash,
		RequestedAt:         r.RequestedAt.UnixMilli(),
		ScheduledFor:        toMillis(r.ScheduledFor),
		DistanceKm:          r.DistanceKm,
		DurationSec:         r.DurationSec,
		TrafficFactor:       r.TrafficFactor,
		FareAmount:          r.FareAmount,
		Currency:            r.Currency,
		Status:              string(r.Status),
		PreferredDriverID:   string(r.PreferredDriverID),
		DriverID:            string(r.DriverID),
		DriverName:          r.DriverName,
		DriverPhone:         r.DriverPhone,
		VehicleInfo:         r.VehicleInfo,
		DistanceRemainingKm: r.DistanceRemainingKm,
		EtaMinutes:          r.EtaMinutes,
		PickupDistanceKm:    r.PickupDistanceKm,
		AcceptedAt:          toMillis(r.AcceptedAt),
		RideStartedAt:       toMillis(r.RideStartedAt),
		RideCompletedAt:     toMillis(r.RideCompletedAt),
		CancelledAt:         toMillis(r.CancelledAt),
		CancelledBy:         string(r.CancelledBy),
		CancelReason:        r.CancelReason,
		RejectedAt:          toMillis(r.RejectedAt),
		RejectedBy:          string(r.RejectedBy),
	}
	if l := r.DriverLocation; l != nil {
		doc.DriverLocation = &rtdbLocation{
			Lat:       l.Lat,
			Lng:       l.Lng,
			Timestamp: l.Timestamp.UnixMilli(),
			Accuracy:  l.Accuracy,
			Speed:     l.Speed,
			Heading:   l.Heading,
		}
	}
	return doc
}

func fromRTDB(doc *rtdbRide) *RideRequest {
	r := &RideRequest{
		ID:                  types.ID(doc.ID),
		RiderID:             types.ID(doc.RiderID),
		RiderName:           doc.RiderName,
		Origin:              doc.Origin,
		Destination:         doc.Destination,
		OriginLabel:         doc.OriginLabel,
		DestinationLabel:    doc.DestinationLabel,
		OriginGeohash:       doc.OriginGeohash,
		RequestedAt:         time.UnixMilli(doc.RequestedAt).UTC(),
		ScheduledFor:        fromMillis(doc.ScheduledFor),
		DistanceKm:          doc.DistanceKm,
		DurationSec:         doc.DurationSec,
		TrafficFactor:       doc.TrafficFactor,
		FareAmount:          doc.FareAmount,
		Currency:            doc.Currency,
		Status:              Status(doc.Status),
		PreferredDriverID:   types.ID(doc.PreferredDriverID),
		DriverID:            types.ID(doc.DriverID),
		DriverName:          doc.DriverName,
		DriverPhone:         doc.DriverPhone,
		VehicleInfo:         doc.VehicleInfo,
		DistanceRemainingKm: doc.DistanceRemainingKm,
		EtaMinutes:          doc.EtaMinutes,
		PickupDistanceKm:    doc.PickupDistanceKm,
		AcceptedAt:          fromMillis(doc.AcceptedAt),
		RideStartedAt:       fromMillis(doc.RideStartedAt),
		RideCompletedAt:     fromMillis(doc.RideCompletedAt),
		CancelledAt:         fromMillis(doc.CancelledAt),
		CancelledBy:         types.ID(doc.CancelledBy),
		CancelReason:        doc.CancelReason,
		RejectedAt:          fromMillis(doc.RejectedAt),
		RejectedBy:          types.ID(doc.RejectedBy),
	}
	if l := doc.DriverLocation; l != nil {
		r.DriverLocation = &DriverLocation{
			Lat:       l.Lat,
			Lng:       l.Lng,
			Timestamp: time.UnixMilli(l.Timestamp).UTC(),
			Accuracy:  l.Accuracy,
			Speed:     l.Speed,
			Heading:   l.Heading,
		}
	}
	return r
}

func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

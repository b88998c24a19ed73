// README: Driver availability stores (in-process and Firebase RTDB).
package matching

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"

	"ridelink/internal/feed"
	"ridelink/internal/geo"
	"ridelink/internal/logger"
	"ridelink/internal/types"
)

// AvailabilityStore holds one entry per driver. Subscribers of a driver
// without an entry see it as unavailable.
type AvailabilityStore interface {
	// Get fails with types.ErrNotFound for unknown drivers.
	Get(ctx context.Context, driverID types.ID) (Availability, error)
	Set(ctx context.Context, a Availability) error
	Subscribe(ctx context.Context, driverID types.ID) (*feed.Latest[Availability], error)
	// AvailableNear lists eligible drivers within radiusKm, closest first.
	AvailableNear(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

type MemoryAvailability struct {
	mu      sync.Mutex
	drivers map[types.ID]Availability
	subs    map[*feed.Latest[Availability]]types.ID
}

func NewMemoryAvailability() *MemoryAvailability {
	return &MemoryAvailability{
		drivers: make(map[types.ID]Availability),
		subs:    make(map[*feed.Latest[Availability]]types.ID),
	}
}

func (m *MemoryAvailability) Get(_ context.Context, driverID types.ID) (Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.drivers[driverID]
	if !ok {
		return Availability{}, fmt.Errorf("driver %s: %w", driverID, types.ErrNotFound)
	}
	return copyAvailability(a), nil
}

func (m *MemoryAvailability) Set(_ context.Context, a Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[a.DriverID] = copyAvailability(a)
	for sub, id := range m.subs {
		if id == a.DriverID {
			sub.Publish(copyAvailability(a))
		}
	}
	return nil
}

func (m *MemoryAvailability) Subscribe(ctx context.Context, driverID types.ID) (*feed.Latest[Availability], error) {
	sub := feed.NewLatest[Availability]()
	m.mu.Lock()
	m.subs[sub] = driverID
	if a, ok := m.drivers[driverID]; ok {
		sub.Publish(copyAvailability(a))
	} else {
		sub.Publish(Availability{DriverID: driverID, Status: StatusUnavailable})
	}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done():
		}
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		sub.Close()
	}()
	return sub, nil
}

func (m *MemoryAvailability) AvailableNear(_ context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	m.mu.Lock()
	all := make([]Availability, 0, len(m.drivers))
	for _, a := range m.drivers {
		all = append(all, a)
	}
	m.mu.Unlock()
	return nearest(all, p, radiusKm), nil
}

// FirebaseAvailability stores availability under /drivers/{id}.
type FirebaseAvailability struct {
	client *db.Client
	poll   time.Duration
	log    *zap.Logger
}

func NewFirebaseAvailability(client *db.Client, poll time.Duration, log *zap.Logger) *FirebaseAvailability {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &FirebaseAvailability{client: client, poll: poll, log: logger.OrNop(log)}
}

// rtdbDriver mirrors a driver entry; updatedAt is epoch milliseconds.
type rtdbDriver struct {
	Status      string   `json:"status"`
	Verified    bool     `json:"verified"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	VehicleInfo string   `json:"vehicleInfo,omitempty"`
	UpdatedAt   int64    `json:"updatedAt"`
}

func (f *FirebaseAvailability) Get(ctx context.Context, driverID types.ID) (Availability, error) {
	var entry *rtdbDriver
	if err := f.client.NewRef("drivers").Child(string(driverID)).Get(ctx, &entry); err != nil {
		return Availability{}, fmt.Errorf("reading driver %s: %w", driverID, err)
	}
	if entry == nil {
		return Availability{}, fmt.Errorf("driver %s: %w", driverID, types.ErrNotFound)
	}
	return entry.toAvailability(driverID), nil
}

func (f *FirebaseAvailability) Set(ctx context.Context, a Availability) error {
	entry := rtdbDriver{
		Status:      string(a.Status),
		Verified:    a.Verified,
		VehicleInfo: a.VehicleInfo,
		UpdatedAt:   a.UpdatedAt.UnixMilli(),
	}
	if a.Location != nil {
		lat, lng := a.Location.Lat, a.Location.Lng
		entry.Lat, entry.Lng = &lat, &lng
	}
	if err := f.client.NewRef("drivers").Child(string(a.DriverID)).Set(ctx, entry); err != nil {
		return fmt.Errorf("writing driver %s: %w", a.DriverID, err)
	}
	return nil
}

func (f *FirebaseAvailability) Subscribe(ctx context.Context, driverID types.ID) (*feed.Latest[Availability], error) {
	fetch := func(ctx context.Context) (Availability, error) {
		a, err := f.Get(ctx, driverID)
		if errors.Is(err, types.ErrNotFound) {
			return Availability{DriverID: driverID, Status: StatusUnavailable}, nil
		}
		return a, err
	}
	equal := func(a, b Availability) bool { return reflect.DeepEqual(a, b) }
	onErr := func(err error) { f.log.Debug("availability poll failed", logger.DriverID(driverID), logger.Err(err)) }
	return feed.Poll(ctx, f.poll, fetch, equal, onErr), nil
}

// AvailableNear fetches available drivers with an ordered query and filters
// them by distance.
func (f *FirebaseAvailability) AvailableNear(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	var data map[string]*rtdbDriver
	if err := f.client.NewRef("drivers").OrderByChild("status").EqualTo(string(StatusAvailable)).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying available drivers: %w", err)
	}
	all := make([]Availability, 0, len(data))
	for id, entry := range data {
		if entry != nil {
			all = append(all, entry.toAvailability(types.ID(id)))
		}
	}
	return nearest(all, p, radiusKm), nil
}

func (e *rtdbDriver) toAvailability(id types.ID) Availability {
	a := Availability{
		DriverID:    id,
		Status:      AvailabilityStatus(e.Status),
		Verified:    e.Verified,
		VehicleInfo: e.VehicleInfo,
		UpdatedAt:   time.UnixMilli(e.UpdatedAt).UTC(),
	}
	if e.Lat != nil && e.Lng != nil {
		a.Location = &types.Point{Lat: *e.Lat, Lng: *e.Lng}
	}
	return a
}

func nearest(all []Availability, p types.Point, radiusKm float64) []types.ID {
	type hit struct {
		id   types.ID
		dist float64
	}
	var hits []hit
	for _, a := range all {
		if !a.Eligible() {
			continue
		}
		if geo.WithinRadius(p, *a.Location, radiusKm) {
			hits = append(hits, hit{id: a.DriverID, dist: geo.DistanceKm(p, *a.Location)})
		}
	}
	geo.SortByDistance(hits, func(h hit) float64 { return h.dist })
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

func copyAvailability(a Availability) Availability {
	if a.Location != nil {
		p := *a.Location
		a.Location = &p
	}
	return a
}

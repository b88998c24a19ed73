// README: In-process live store; serializes writes under one mutex.
package ride

import (
	"context"
	"sync"
	"time"

	"ridelink/internal/feed"
	"ridelink/internal/types"
)

type MemoryStore struct {
	mu    sync.Mutex
	rides map[types.ID]*RideRequest
	subs  map[*feed.Latest[Snapshot]]Filter
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides: make(map[types.ID]*RideRequest),
		subs:  make(map[*feed.Latest[Snapshot]]Filter),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, r *RideRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return alreadyExists(r.ID)
	}
	s.rides[r.ID] = r.Clone()
	s.notifyLocked()
	return nil
}

func (s *MemoryStore) Read(_ context.Context, id types.ID) (*RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, notFound(id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Query(_ context.Context, f Filter) ([]RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(f), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, f Filter) (*feed.Latest[Snapshot], error) {
	sub := feed.NewLatest[Snapshot]()

	s.mu.Lock()
	s.subs[sub] = f
	sub.Publish(Snapshot{Rides: s.queryLocked(f), At: s.now()})
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done():
		}
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.Close()
	}()
	return sub, nil
}

func (s *MemoryStore) TryTransition(_ context.Context, id types.ID, expected Status, m Mutation) (*RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := applyTransition(s.rides[id], id, expected, m)
	if err != nil {
		return nil, err
	}
	s.rides[id] = next
	s.notifyLocked()
	return next.Clone(), nil
}

func (s *MemoryStore) PublishLocation(_ context.Context, id, driverID types.ID, u LocationUpdate) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := applyLocation(s.rides[id], id, driverID, u)
	if err != nil {
		return "", err
	}
	s.rides[id] = next
	s.notifyLocked()
	return next.Status, nil
}

func (s *MemoryStore) queryLocked(f Filter) []RideRequest {
	out := []RideRequest{}
	for _, r := range s.rides {
		if f.Matches(r) {
			out = append(out, *r.Clone())
		}
	}
	sortRides(out)
	return out
}

func (s *MemoryStore) notifyLocked() {
	at := s.now()
	for sub, f := range s.subs {
		sub.Publish(Snapshot{Rides: s.queryLocked(f), At: at})
	}
}

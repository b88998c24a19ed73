// README: Redis-backed driver geo index and per-driver rejection window.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ridelink/internal/types"
)

const (
	driverGeoKey       = "matching:drivers"
	rejectionKeyPrefix = "matching:driver:%s:rejected"
)

// Index keeps available drivers' last known positions for radius lookups.
type Index interface {
	Upsert(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

// Rejections remembers which rides a driver declined.
type Rejections interface {
	Record(ctx context.Context, driverID, rideID types.ID, at time.Time) error
	// Rejected lists rides the driver declined at or after since.
	Rejected(ctx context.Context, driverID types.ID, since time.Time) (map[types.ID]struct{}, error)
}

type RedisIndex struct {
	redis *redis.Client
}

func NewRedisIndex(redis *redis.Client) *RedisIndex {
	return &RedisIndex{redis: redis}
}

func (s *RedisIndex) Upsert(ctx context.Context, driverID types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *RedisIndex) Remove(ctx context.Context, driverID types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKey, string(driverID)).Err()
}

func (s *RedisIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// RedisRejections stores one sorted set per driver scored by rejection time.
// Entries older than the window are trimmed on every write and the key
// expires once the driver stops rejecting.
type RedisRejections struct {
	redis  *redis.Client
	window time.Duration
}

func NewRedisRejections(redis *redis.Client, window time.Duration) *RedisRejections {
	return &RedisRejections{redis: redis, window: window}
}

func (s *RedisRejections) Record(ctx context.Context, driverID, rideID types.ID, at time.Time) error {
	key := rejectionKey(driverID)
	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: string(rideID)})
	if s.window > 0 {
		cutoff := at.Add(-s.window).Unix()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, s.window)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRejections) Rejected(ctx context.Context, driverID types.ID, since time.Time) (map[types.ID]struct{}, error) {
	lo := "-inf"
	if !since.IsZero() {
		lo = strconv.FormatInt(since.Unix(), 10)
	}
	members, err := s.redis.ZRangeByScore(ctx, rejectionKey(driverID), &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]struct{}, len(members))
	for _, m := range members {
		out[types.ID(m)] = struct{}{}
	}
	return out, nil
}

func rejectionKey(driverID types.ID) string {
	return fmt.Sprintf(rejectionKeyPrefix, string(driverID))
}

type MemoryRejections struct {
	mu   sync.Mutex
	byID map[types.ID]map[types.ID]time.Time
}

func NewMemoryRejections() *MemoryRejections {
	return &MemoryRejections{byID: make(map[types.ID]map[types.ID]time.Time)}
}

func (m *MemoryRejections) Record(_ context.Context, driverID, rideID types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rides := m.byID[driverID]
	if rides == nil {
		rides = make(map[types.ID]time.Time)
		m.byID[driverID] = rides
	}
	rides[rideID] = at
	return nil
}

func (m *MemoryRejections) Rejected(_ context.Context, driverID types.ID, since time.Time) (map[types.ID]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.ID]struct{})
	for id, at := range m.byID[driverID] {
		if !at.Before(since) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

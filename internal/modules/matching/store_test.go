package matching

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridelink/internal/types"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisIndex_UpsertAndRemove(t *testing.T) {
	mr, client := setupMiniredis(t)
	idx := NewRedisIndex(client)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "d1", driverPos))
	require.NoError(t, idx.Upsert(ctx, "d2", nearOrigin))
	members, err := mr.ZMembers(driverGeoKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d2"}, members)

	pos, err := client.GeoPos(ctx, driverGeoKey, "d1").Result()
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0])
	assert.InDelta(t, driverPos.Lat, pos[0].Latitude, 1e-4)
	assert.InDelta(t, driverPos.Lng, pos[0].Longitude, 1e-4)

	require.NoError(t, idx.Remove(ctx, "d1"))
	members, err = mr.ZMembers(driverGeoKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, members)
}

func TestRedisRejections_WindowAndTrim(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewRedisRejections(client, 30*time.Minute)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "d1", "old", t0))
	require.NoError(t, store.Record(ctx, "d1", "recent", t0.Add(20*time.Minute)))
	require.NoError(t, store.Record(ctx, "d2", "other", t0))

	got, err := store.Rejected(ctx, "d1", t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[types.ID]struct{}{"recent": {}}, got)

	got, err = store.Rejected(ctx, "d1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// A write 40 minutes in trims entries older than the window.
	require.NoError(t, store.Record(ctx, "d1", "newest", t0.Add(40*time.Minute)))
	members, err := mr.ZMembers(rejectionKey("d1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"recent", "newest"}, members)

	assert.Equal(t, 30*time.Minute, mr.TTL(rejectionKey("d1")))
	mr.FastForward(31 * time.Minute)
	assert.False(t, mr.Exists(rejectionKey("d1")))
}

func TestMemoryRejections_Since(t *testing.T) {
	store := NewMemoryRejections()
	ctx := context.Background()
	t0 := time.Now()
	require.NoError(t, store.Record(ctx, "d1", "a", t0.Add(-time.Hour)))
	require.NoError(t, store.Record(ctx, "d1", "b", t0))

	got, err := store.Rejected(ctx, "d1", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[types.ID]struct{}{"b": {}}, got)

	got, err = store.Rejected(ctx, "nobody", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryAvailability_SubscribeSeesUpdates(t *testing.T) {
	store := NewMemoryAvailability()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := store.Subscribe(ctx, "d1")
	require.NoError(t, err)
	first := <-sub.C()
	assert.Equal(t, StatusUnavailable, first.Status)
	assert.False(t, first.Eligible())

	require.NoError(t, store.Set(ctx, available("d1", driverPos)))
	require.NoError(t, store.Set(ctx, available("d2", nearOrigin)))
	got := <-sub.C()
	assert.Equal(t, types.ID("d1"), got.DriverID)
	assert.True(t, got.Eligible())

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

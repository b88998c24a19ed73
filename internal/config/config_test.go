package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 50.0, cfg.Matching.RadiusKm)
	assert.Equal(t, 30*time.Minute, cfg.Matching.RejectionWindow)
	assert.Equal(t, 10*time.Second, cfg.Tracking.Interval)
	assert.Equal(t, 10.0, cfg.Tracking.MinDistanceM)
	assert.Equal(t, "firebase", cfg.LiveStore.Backend)
	assert.Equal(t, "firestore", cfg.History.Backend)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RIDELINK_MATCHING_RADIUS_KM", "25")
	t.Setenv("RIDELINK_TRACKING_INTERVAL", "5s")
	t.Setenv("RIDELINK_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RIDELINK_HISTORY_BACKEND", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Matching.RadiusKm)
	assert.Equal(t, 5*time.Second, cfg.Tracking.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "postgres", cfg.History.Backend)
}

func TestLoad_ReportsAllInvalidSettings(t *testing.T) {
	t.Setenv("RIDELINK_MATCHING_RADIUS_KM", "0")
	t.Setenv("RIDELINK_TRACKING_AVG_SPEED_KMH", "-5")
	t.Setenv("RIDELINK_LIVESTORE_BACKEND", "etcd")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matching.radius_km")
	assert.Contains(t, err.Error(), "tracking.avg_speed_kmh")
	assert.Contains(t, err.Error(), "livestore.backend")
}

func TestLoad_RejectsNonPositiveIntervals(t *testing.T) {
	t.Setenv("RIDELINK_HISTORY_RETRY_INTERVAL", "0s")
	t.Setenv("RIDELINK_LIVESTORE_POLL_INTERVAL", "-1s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.retry_interval")
	assert.Contains(t, err.Error(), "livestore.poll_interval")
}

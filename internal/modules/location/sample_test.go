package location

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridelink/internal/types"
)

func f(v float64) *float64 { return &v }

func TestSample_FixDropsInvalidOptionalFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name                     string
		in                       Sample
		accuracy, speed, heading *float64
	}{
		{"negative speed omitted", Sample{Speed: f(-1)}, nil, nil, nil},
		{"zero speed kept", Sample{Speed: f(0)}, nil, f(0), nil},
		{"zero accuracy omitted", Sample{Accuracy: f(0)}, nil, nil, nil},
		{"heading 360 omitted", Sample{Heading: f(360)}, nil, nil, nil},
		{"heading 0 kept", Sample{Heading: f(0)}, nil, nil, f(0)},
		{"NaN speed omitted", Sample{Speed: f(math.NaN())}, nil, nil, nil},
		{"all valid", Sample{Accuracy: f(4.5), Speed: f(8.2), Heading: f(271)}, f(4.5), f(8.2), f(271)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.Lat, tc.in.Lng, tc.in.Timestamp = 26.47, 73.11, ts
			fix, err := tc.in.Fix()
			require.NoError(t, err)
			assert.Equal(t, tc.accuracy, fix.Accuracy)
			assert.Equal(t, tc.speed, fix.Speed)
			assert.Equal(t, tc.heading, fix.Heading)
		})
	}
}

func TestSample_FixRejectsBadCoordinates(t *testing.T) {
	_, err := Sample{Lat: 95, Lng: 0, Timestamp: time.Now()}.Fix()
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = Sample{Lat: 10, Lng: 10}.Fix()
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestPushSource_KeepsNewest(t *testing.T) {
	src := NewPushSource()
	_, ok := src.Latest()
	assert.False(t, ok)

	t0 := time.Now()
	require.NoError(t, src.Push(Sample{Lat: 1, Lng: 1, Timestamp: t0}))
	require.NoError(t, src.Push(Sample{Lat: 2, Lng: 2, Timestamp: t0.Add(-time.Second)}))
	s, ok := src.Latest()
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Lat)

	assert.ErrorIs(t, src.Push(Sample{Lat: 100, Lng: 0, Timestamp: t0}), types.ErrInvalidParameter)
}

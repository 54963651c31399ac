package track

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAcceptsValidSample(t *testing.T) {
	prev := groundedAt(30.19, -97.67, t0)
	s := sample(t0.Add(time.Minute), 30.19, -97.67, math.NaN(), 12)

	got, err := Normalize(prev, s, testThresholds)
	require.NoError(t, err)
	assert.Equal(t, s.ICAO, got.ICAO)
	assert.Equal(t, s.Time, got.Time)
	assert.Equal(t, s.Lat, got.Lat)
	assert.Equal(t, s.Lon, got.Lon)
	assert.Equal(t, s.GroundSpeedKt, got.GroundSpeedKt)
	// NaN never compares equal to itself, so the unknown altitude is
	// asserted on its own.
	assert.True(t, math.IsNaN(got.AltitudeFt))
}

func TestNormalizeRejections(t *testing.T) {
	prev := groundedAt(30.19, -97.67, t0)
	later := t0.Add(time.Minute)

	cases := []struct {
		name string
		s    Sample
	}{
		{"missing icao", Sample{Time: later, Lat: 30, Lon: -97}},
		{"zero time", Sample{ICAO: "A1B2C3", Lat: 30, Lon: -97}},
		{"latitude out of range", sample(later, 91, -97.67, 0, 0)},
		{"longitude out of range", sample(later, 30.19, -181, 0, 0)},
		{"negative altitude", sample(later, 30.19, -97.67, -100, 0)},
		{"negative speed", sample(later, 30.19, -97.67, 0, -5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(prev, tc.s, testThresholds)
			assert.ErrorIs(t, err, ErrInvalidSample)
		})
	}
}

func TestNormalizeStaleTimestamp(t *testing.T) {
	prev := groundedAt(30.19, -97.67, t0)

	// Older than the last transition by more than the skew tolerance.
	_, err := Normalize(prev, sample(t0.Add(-time.Minute), 30.19, -97.67, 0, 0), testThresholds)
	assert.ErrorIs(t, err, ErrInvalidSample)

	// Inside the tolerance window is accepted.
	_, err = Normalize(prev, sample(t0.Add(-10*time.Second), 30.19, -97.67, 0, 0), testThresholds)
	assert.NoError(t, err)
}

func TestNormalizeNoPriorTransition(t *testing.T) {
	// A fresh entity has no transition yet, so any timestamp is in order.
	_, err := Normalize(State{}, sample(t0, 30.19, -97.67, 0, 0), testThresholds)
	assert.NoError(t, err)
}

package track

import (
	"errors"
	"fmt"
	"math"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/geo"
)

// ErrInvalidSample marks a sample the normalizer rejected. The entity's
// tick is skipped; prior state is left untouched.
var ErrInvalidSample = errors.New("invalid sample")

// Normalize validates a raw sample against the previous state. Altitude
// and speed may be NaN (unknown) but never negative. A timestamp older
// than the last accepted transition minus the clock-skew tolerance is
// stale or out of order and is rejected.
func Normalize(prev State, s Sample, t Thresholds) (Sample, error) {
	if s.ICAO == "" {
		return Sample{}, fmt.Errorf("%w: missing entity identifier", ErrInvalidSample)
	}
	if s.Time.IsZero() {
		return Sample{}, fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	if !geo.ValidCoordinates(s.Lat, s.Lon) {
		return Sample{}, fmt.Errorf("%w: coordinates %.4f,%.4f out of range", ErrInvalidSample, s.Lat, s.Lon)
	}
	if !math.IsNaN(s.AltitudeFt) && s.AltitudeFt < 0 {
		return Sample{}, fmt.Errorf("%w: negative altitude %.0fft", ErrInvalidSample, s.AltitudeFt)
	}
	if !math.IsNaN(s.GroundSpeedKt) && s.GroundSpeedKt < 0 {
		return Sample{}, fmt.Errorf("%w: negative ground speed %.0fkt", ErrInvalidSample, s.GroundSpeedKt)
	}
	if !prev.LastTransition.IsZero() {
		cutoff := prev.LastTransition.Add(-t.ClockSkewTolerance)
		if s.Time.Before(cutoff) {
			return Sample{}, fmt.Errorf("%w: timestamp %s predates last transition %s",
				ErrInvalidSample, s.Time.UTC().Format("2006-01-02T15:04:05Z"),
				prev.LastTransition.UTC().Format("2006-01-02T15:04:05Z"))
		}
	}
	return s, nil
}

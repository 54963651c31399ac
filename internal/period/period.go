// Package period manages the rolling aggregation window over completed
// trips: a per-aircraft UTC calendar month whose totals are reported
// exactly once when the boundary is crossed.
package period

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/trip"
)

// Accumulator is the running total for the current aggregation period.
// It is persisted as part of the aircraft state.
type Accumulator struct {
	PeriodStart time.Time `json:"period_start"`

	DistanceNm float64 `json:"distance_nm"`
	FuelGal    float64 `json:"fuel_gal"`
	CO2Tons    float64 `json:"co2_tons"`
	CarMiles   float64 `json:"car_miles"`
	TripCount  int     `json:"trip_count"`

	// TripDistancesNm keeps each completed trip distance so the summary
	// can report distribution statistics, not just totals.
	TripDistancesNm []float64 `json:"trip_distances_nm,omitempty"`
}

// Summary is the report emitted when a period boundary is crossed.
type Summary struct {
	PeriodKey string
	Start     time.Time
	End       time.Time

	DistanceNm float64
	FuelGal    float64
	CO2Tons    float64
	CarMiles   float64
	TripCount  int

	MeanTripNm    float64
	LongestTripNm float64
}

// Key returns the aggregation period key for t: the UTC calendar month.
func Key(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// StartOf returns the first instant of t's UTC calendar month.
func StartOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Add accumulates one completed trip.
func (a *Accumulator) Add(tr trip.Trip) {
	a.DistanceNm += tr.DistanceNm
	a.FuelGal += tr.FuelGal
	a.CO2Tons += tr.CO2Tons
	a.CarMiles += tr.CarMilesEquivalent
	a.TripCount++
	a.TripDistancesNm = append(a.TripDistancesNm, tr.DistanceNm)
}

// Roll checks whether now falls in a later period than the accumulator.
// If so it returns the completed period's summary and a fresh accumulator
// anchored at the start of now's period; otherwise it returns nil and the
// accumulator unchanged (with PeriodStart initialised on first use).
//
// The guard compares period keys, not wall-clock equality, so repeated
// ticks inside the new period roll at most once.
func Roll(a Accumulator, now time.Time) (*Summary, Accumulator) {
	if a.PeriodStart.IsZero() {
		a.PeriodStart = StartOf(now)
		return nil, a
	}
	if Key(a.PeriodStart) == Key(now) {
		return nil, a
	}

	s := &Summary{
		PeriodKey:  Key(a.PeriodStart),
		Start:      StartOf(a.PeriodStart),
		End:        StartOf(a.PeriodStart).AddDate(0, 1, 0),
		DistanceNm: a.DistanceNm,
		FuelGal:    a.FuelGal,
		CO2Tons:    a.CO2Tons,
		CarMiles:   a.CarMiles,
		TripCount:  a.TripCount,
	}
	if len(a.TripDistancesNm) > 0 {
		s.MeanTripNm = stat.Mean(a.TripDistancesNm, nil)
		s.LongestTripNm = floats.Max(a.TripDistancesNm)
	}

	return s, Accumulator{PeriodStart: StartOf(now)}
}

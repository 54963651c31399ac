// Package trip computes derived metrics for a completed flight.
package trip

import (
	"github.com/upmcplanetracker/generic-plane-tracker/internal/geo"
)

// Emission constants for jet fuel and the average-car comparison.
const (
	CO2LbsPerGallon      = 21.1
	LbsPerMetricTon      = 2204.62
	CO2TonsPerAvgCarMile = 0.0004
)

// Trip is a transient value object produced once per landing: fed into
// the period accumulator, rendered into the flight summary, then
// discarded. It is never persisted.
type Trip struct {
	DepartureFix geo.Fix
	ArrivalFix   geo.Fix

	DistanceNm         float64
	FuelGal            float64
	CO2Tons            float64
	CarMilesEquivalent float64
}

// Compute derives trip metrics from the departure and arrival fixes and
// the aircraft's fuel burn rate in gallons per nautical mile. It never
// rejects a trip: a near-zero distance simply yields near-zero metrics,
// and callers decide whether such a trip is worth reporting.
func Compute(departure, arrival geo.Fix, fuelBurnGalPerNm float64) Trip {
	distance := geo.DistanceNm(departure, arrival)
	fuel := distance * fuelBurnGalPerNm
	co2 := fuel * CO2LbsPerGallon / LbsPerMetricTon

	carMiles := 0.0
	if CO2TonsPerAvgCarMile > 0 {
		carMiles = co2 / CO2TonsPerAvgCarMile
	}

	return Trip{
		DepartureFix:       departure,
		ArrivalFix:         arrival,
		DistanceNm:         distance,
		FuelGal:            fuel,
		CO2Tons:            co2,
		CarMilesEquivalent: carMiles,
	}
}

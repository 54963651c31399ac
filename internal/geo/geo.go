// Package geo provides position fixes and great-circle math for tracked
// aircraft.
package geo

import (
	"fmt"
	"math"
	"time"
)

// EarthRadiusNm is the mean Earth radius in nautical miles.
const EarthRadiusNm = 3440.065

// Fix is a coordinate observed at a point in time.
type Fix struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"time"`
}

func (f Fix) String() string {
	return fmt.Sprintf("%.4f,%.4f", f.Lat, f.Lon)
}

// ValidCoordinates reports whether lat/lon fall inside the WGS84 bounds.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// DistanceNm returns the great-circle distance between two fixes in
// nautical miles, using the haversine formula.
func DistanceNm(a, b Fix) float64 {
	lat1 := a.Lat * math.Pi / 180
	lon1 := a.Lon * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	lon2 := b.Lon * math.Pi / 180

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusNm * c
}

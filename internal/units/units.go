// Package units provides shared aviation unit conversions and timezone
// display helpers.
package units

// KmPerNm converts between the nautical miles used internally and the
// kilometres shown in outbound summaries.
const KmPerNm = 1.852

// NmToKm converts nautical miles to kilometres.
func NmToKm(nm float64) float64 {
	return nm * KmPerNm
}

package units

import (
	"time"
)

// IsTimezoneValid checks the given timezone against the system tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// Location resolves an IANA timezone name, falling back to UTC when the
// name is empty or unknown. All persisted times are UTC; this is for
// display only.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatLocalAndUTC renders a timestamp as a local-time string in loc plus
// the equivalent UTC string, the way outbound notifications present times.
func FormatLocalAndUTC(t time.Time, loc *time.Location) (local, utc string) {
	if loc == nil {
		loc = time.UTC
	}
	utc = t.UTC().Format("2006-01-02, 15:04 UTC")
	local = t.In(loc).Format("2006-01-02, 03:04 PM MST")
	return local, utc
}

// Package notify renders lifecycle events into outbound notifications
// and delivers them to the configured sinks.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/period"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/track"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/trip"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/units"
)

// MaxPostChars is the Bluesky per-post character limit, counted in
// runes. Messages are split on line boundaries to stay under it.
const MaxPostChars = 300

// Message is one rendered notification: short-form posts for social
// sinks, plus a subject and long-form body for email.
type Message struct {
	ID         string
	Kind       track.EventKind
	ICAO       string
	OccurredAt time.Time

	Posts   []string
	Subject string
	Body    string

	// EmailOnly suppresses social delivery, used for operator alerts
	// like feed-outage escalations.
	EmailOnly bool
}

// EventContext carries everything the renderer needs for one event.
type EventContext struct {
	DisplayName string
	Event       track.Event

	// Place names the event location; DeparturePlace names where the
	// current flight started, for departures.
	Place          string
	DeparturePlace string

	Trip    *trip.Trip
	Summary *period.Summary

	Location      *time.Location
	IdleThreshold time.Duration
}

// Format renders the event into a Message. The social posts follow the
// established wording per event kind; the email body adds a maps link.
func Format(ctx EventContext) Message {
	m := Message{
		Kind:       ctx.Event.Kind,
		ICAO:       ctx.Event.ICAO,
		OccurredAt: ctx.Event.Time,
	}

	localTime, utcTime := units.FormatLocalAndUTC(ctx.Event.Time, ctx.Location)

	switch ctx.Event.Kind {
	case track.EventDeparted:
		text := fmt.Sprintf(
			"✈️ %s has taken off from **%s**.\n"+
				"* **Coords:** %.4f, %.4f\n"+
				"* **Time:** %s (%s)",
			ctx.DisplayName, ctx.DeparturePlace,
			ctx.Event.Fix.Lat, ctx.Event.Fix.Lon,
			localTime, utcTime)
		m.Posts = SplitPosts(text)
		m.Subject = fmt.Sprintf("Plane Tracker: %s has taken off!", ctx.DisplayName)
		m.Body = text + "\n\nMap: " + MapsLink(ctx.Event.Fix.Lat, ctx.Event.Fix.Lon)

	case track.EventLanded:
		arrival := fmt.Sprintf(
			"🛬 %s has landed in **%s**.\n"+
				"* **Coords:** %.4f, %.4f\n"+
				"* **Time:** %s (%s)",
			ctx.DisplayName, ctx.Place,
			ctx.Event.Fix.Lat, ctx.Event.Fix.Lon,
			localTime, utcTime)
		m.Posts = SplitPosts(arrival)
		body := arrival
		if ctx.Trip != nil {
			summary := fmt.Sprintf(
				"📊 **Flight Summary:**\n"+
					"* **Distance:** ~%.0f nautical miles (~%.0f km)\n"+
					"* **CO₂ Emissions:** ~%.1f tons\n"+
					"* **Equivalent to:** ~%s miles driven by an average car.",
				ctx.Trip.DistanceNm, units.NmToKm(ctx.Trip.DistanceNm), ctx.Trip.CO2Tons,
				groupThousands(ctx.Trip.CarMilesEquivalent))
			m.Posts = append(m.Posts, SplitPosts(summary)...)
			body += "\n\n" + summary
		}
		m.Subject = fmt.Sprintf("Plane Tracker: %s has landed!", ctx.DisplayName)
		m.Body = body + "\n\nMap: " + MapsLink(ctx.Event.Fix.Lat, ctx.Event.Fix.Lon)

	case track.EventStillGrounded:
		hours := int(ctx.IdleThreshold / time.Hour)
		text := fmt.Sprintf(
			"✈️ %s has been idle on the ground at **%s** for over %d hours.",
			ctx.DisplayName, ctx.Place, hours)
		m.Posts = SplitPosts(text)
		m.Subject = "Plane Tracker: Idle Alert!"
		m.Body = text + "\n\nMap: " + MapsLink(ctx.Event.Fix.Lat, ctx.Event.Fix.Lon)

	case track.EventPeriodSummary:
		text := formatPeriodSummary(ctx.DisplayName, ctx.Summary)
		m.Posts = SplitPosts(text)
		m.Subject = fmt.Sprintf("Plane Tracker: %s monthly report", ctx.DisplayName)
		m.Body = text
	}

	return m
}

func formatPeriodSummary(name string, s *period.Summary) string {
	if s == nil {
		return ""
	}
	month := s.Start.Format("January 2006")
	if s.TripCount == 0 {
		return fmt.Sprintf("📊 %s monthly report for %s: no flights recorded.", name, month)
	}
	lines := []string{
		fmt.Sprintf("📊 %s monthly report for %s:", name, month),
		fmt.Sprintf("* **Flights:** %d", s.TripCount),
		fmt.Sprintf("* **Distance:** ~%.0f nautical miles (~%.0f km)", s.DistanceNm, units.NmToKm(s.DistanceNm)),
		fmt.Sprintf("* **Fuel:** ~%.0f gallons", s.FuelGal),
		fmt.Sprintf("* **CO₂ Emissions:** ~%.1f tons", s.CO2Tons),
		fmt.Sprintf("* **Equivalent to:** ~%s miles driven by an average car.", groupThousands(s.CarMiles)),
		fmt.Sprintf("* **Longest flight:** ~%.0f nm (mean ~%.0f nm)", s.LongestTripNm, s.MeanTripNm),
	}
	return strings.Join(lines, "\n")
}

// MapsLink returns a Google Maps search link for the coordinates.
func MapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%v,%v", lat, lon)
}

// SplitPosts breaks text into chunks that fit in a single post,
// preferring line boundaries. A single line longer than the budget is
// hard-split on runes.
func SplitPosts(text string) []string {
	if countChars(text) <= MaxPostChars {
		return []string{text}
	}

	var posts []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			posts = append(posts, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for countChars(line) > MaxPostChars {
			flush()
			runes := []rune(line)
			posts = append(posts, string(runes[:MaxPostChars]))
			line = string(runes[MaxPostChars:])
		}
		lineLen := countChars(line)
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+lineLen > MaxPostChars {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(line)
		curLen += lineLen
	}
	flush()
	return posts
}

func countChars(s string) int {
	return len([]rune(s))
}

// groupThousands renders a rounded count with comma separators.
func groupThousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

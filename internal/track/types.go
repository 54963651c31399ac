// Package track holds the per-aircraft flight state and the pure decision
// logic that turns position samples into lifecycle events.
package track

import (
	"time"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/geo"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/period"
)

// CurrentSchemaVersion tags persisted states so older rows stay readable
// after optional fields are added.
const CurrentSchemaVersion = 1

// Status is the flight status of a tracked aircraft.
type Status string

const (
	OnGround Status = "ON_GROUND"
	Flying   Status = "FLYING"
)

// Sample is a validated position observation. Altitude and ground speed
// are NaN when the feed omitted them. Samples are ephemeral: consumed by
// the state machine and never persisted.
type Sample struct {
	ICAO          string
	Time          time.Time
	Lat           float64
	Lon           float64
	AltitudeFt    float64
	GroundSpeedKt float64
}

// State is everything persisted per aircraft.
type State struct {
	SchemaVersion int `json:"schema_version"`

	Status         Status    `json:"status"`
	LastTransition time.Time `json:"last_transition"`

	// GroundAnchor is the fix recorded when the aircraft last became (or
	// was first seen) ON_GROUND. The idle clock is anchored here; taxi
	// jitter never resets it.
	GroundAnchor *geo.Fix `json:"ground_anchor,omitempty"`

	// DepartureFix is the fix recorded at the ON_GROUND -> FLYING
	// transition, consumed once when the trip completes.
	DepartureFix *geo.Fix `json:"departure_fix,omitempty"`

	// DeparturePlace is the geocoded takeoff location, kept so the
	// landing notification can name it without a second lookup.
	DeparturePlace string `json:"departure_place,omitempty"`

	// LastIdleNotice is the time of the last still-grounded notification
	// for the current ground stay. Zero means none sent.
	LastIdleNotice time.Time `json:"last_idle_notice"`

	Period period.Accumulator `json:"period"`
}

// Thresholds are the immutable decision parameters, threaded in
// explicitly rather than read from package state.
type Thresholds struct {
	AltitudeFt         float64
	GroundSpeedKt      float64
	MinStateChange     time.Duration
	IdleNotification   time.Duration
	ClockSkewTolerance time.Duration
}

// EventKind identifies a derived lifecycle event.
type EventKind string

const (
	EventDeparted      EventKind = "departed"
	EventLanded        EventKind = "landed"
	EventStillGrounded EventKind = "still_grounded"
	EventPeriodSummary EventKind = "period_summary"
)

// Event is a decided lifecycle event. It carries fixes only; place names
// and metrics are resolved by the orchestrator, keeping the decision
// logic free of I/O.
type Event struct {
	Kind EventKind
	ICAO string
	Time time.Time

	// Fix is the position at the event: the departure fix for Departed,
	// the arrival fix for Landed, the ground anchor for StillGrounded.
	Fix geo.Fix

	// DepartureFix is set on Landed events and feeds the trip metrics.
	DepartureFix *geo.Fix

	// IdleSince is set on StillGrounded events.
	IdleSince time.Time
}

// Bootstrap returns the state recorded on first observation of an
// aircraft: ON_GROUND, anchored at the first fix. The debounce clock
// starts here so a freshly tracked aircraft cannot transition instantly.
func Bootstrap(s Sample) State {
	fix := geo.Fix{Lat: s.Lat, Lon: s.Lon, Time: s.Time}
	return State{
		SchemaVersion:  CurrentSchemaVersion,
		Status:         OnGround,
		LastTransition: s.Time,
		GroundAnchor:   &fix,
	}
}

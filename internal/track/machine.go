package track

import (
	"math"
	"time"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/geo"
)

// isFlying is the airborne predicate. Both comparisons are strict: a
// sample sitting exactly on a threshold does not count as flying.
// Unknown (NaN) values fail their half of the predicate.
func isFlying(s Sample, t Thresholds) bool {
	if !math.IsNaN(s.AltitudeFt) && s.AltitudeFt > t.AltitudeFt {
		return true
	}
	if !math.IsNaN(s.GroundSpeedKt) && s.GroundSpeedKt > t.GroundSpeedKt {
		return true
	}
	return false
}

// Decide applies one validated sample to the previous state and returns
// the next state plus the event that fired, if any. It is a pure function
// of its arguments: no clock reads, no I/O. Persistence and notification
// happen in the orchestrator, after this returns.
//
// The debounce window is measured from LastTransition, not from sample
// arrival, so threshold-crossing noise inside the window neither fires a
// transition nor resets the timer.
func Decide(prev State, s Sample, t Thresholds) (State, *Event) {
	next := prev
	next.SchemaVersion = CurrentSchemaVersion

	flying := isFlying(s, t)
	elapsed := s.Time.Sub(prev.LastTransition)
	fix := geo.Fix{Lat: s.Lat, Lon: s.Lon, Time: s.Time}

	switch {
	case prev.Status == OnGround && flying && elapsed >= t.MinStateChange:
		next.Status = Flying
		next.LastTransition = s.Time
		next.DepartureFix = &fix
		next.DeparturePlace = ""
		next.LastIdleNotice = time.Time{}
		next.GroundAnchor = nil
		return next, &Event{Kind: EventDeparted, ICAO: s.ICAO, Time: s.Time, Fix: fix}

	case prev.Status == Flying && !flying && elapsed >= t.MinStateChange:
		next.Status = OnGround
		next.LastTransition = s.Time
		next.GroundAnchor = &fix
		next.LastIdleNotice = time.Time{}
		return next, &Event{
			Kind:         EventLanded,
			ICAO:         s.ICAO,
			Time:         s.Time,
			Fix:          fix,
			DepartureFix: prev.DepartureFix,
		}
	}

	// No transition. While grounded, keep the anchor populated (first
	// observation of old rows) and evaluate the idle rule.
	if next.Status == OnGround {
		if next.GroundAnchor == nil {
			next.GroundAnchor = &fix
		}
		if ev := idleEvent(next, s.ICAO, s.Time, t); ev != nil {
			next.LastIdleNotice = s.Time
			return next, ev
		}
	}
	return next, nil
}

// DecideNoContact evaluates only the idle rule for a grounded aircraft
// when the feed has no data this tick. Idleness is a property of elapsed
// time, not of a fresh sample, so a silent feed still produces
// still-grounded notices.
func DecideNoContact(prev State, icao string, now time.Time, t Thresholds) (State, *Event) {
	next := prev
	if prev.Status != OnGround {
		return next, nil
	}
	if ev := idleEvent(prev, icao, now, t); ev != nil {
		next.LastIdleNotice = now
		return next, ev
	}
	return next, nil
}

// idleEvent applies the still-grounded rule: the idle clock is anchored
// to the ground anchor, and notices repeat at most once per threshold.
func idleEvent(st State, icao string, now time.Time, t Thresholds) *Event {
	if t.IdleNotification <= 0 || st.GroundAnchor == nil {
		return nil
	}
	if now.Sub(st.GroundAnchor.Time) < t.IdleNotification {
		return nil
	}
	if !st.LastIdleNotice.IsZero() && now.Sub(st.LastIdleNotice) < t.IdleNotification {
		return nil
	}
	return &Event{
		Kind:      EventStillGrounded,
		ICAO:      icao,
		Time:      now,
		Fix:       *st.GroundAnchor,
		IdleSince: st.GroundAnchor.Time,
	}
}

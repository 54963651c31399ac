// Package tracker runs the polling loop: fetch a position report per
// aircraft, feed it through the state machine, persist the outcome, and
// dispatch whatever events fired.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/adsb"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/config"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/geocode"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/notify"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/period"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/store"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/timeutil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/track"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/trip"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/units"
)

// Feed fetches the current position report for one aircraft.
type Feed interface {
	Fetch(ctx context.Context, icao string) (adsb.Report, error)
}

// Dispatcher delivers a rendered message; *notify.Dispatcher satisfies
// it.
type Dispatcher interface {
	Dispatch(ctx context.Context, m notify.Message)
}

// Tracker owns the periodic loop over all configured aircraft.
type Tracker struct {
	Config     config.Config
	Store      *store.Store
	Feed       Feed
	Geocoder   geocode.Geocoder
	Dispatcher Dispatcher
	Clock      timeutil.Clock
	Metrics    *monitoring.Collector

	StopChan chan struct{}

	mu      sync.Mutex
	streaks map[string]int
}

func New(cfg config.Config, st *store.Store, feed Feed, geocoder geocode.Geocoder, d Dispatcher, clock timeutil.Clock, metrics *monitoring.Collector) *Tracker {
	return &Tracker{
		Config:     cfg,
		Store:      st,
		Feed:       feed,
		Geocoder:   geocoder,
		Dispatcher: d,
		Clock:      clock,
		Metrics:    metrics,
		StopChan:   make(chan struct{}),
		streaks:    make(map[string]int),
	}
}

// Start runs the polling loop in a goroutine until Stop is called or
// ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.Config.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.RunOnce(ctx); err != nil {
					monitoring.Logf("tracker: tick failed: %v", err)
				}
			case <-t.StopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Run polls immediately and then hands off to the ticker loop. The
// ticker does not start until the first poll completes, so a first poll
// that outlasts the poll interval cannot overlap the next tick.
func (t *Tracker) Run(ctx context.Context) {
	go func() {
		if err := t.RunOnce(ctx); err != nil {
			monitoring.Logf("tracker: initial poll failed: %v", err)
		}
		t.Start(ctx)
	}()
}

func (t *Tracker) Stop() {
	close(t.StopChan)
}

// RunOnce processes every configured aircraft once, in parallel. Each
// aircraft's failure is isolated: the returned error is a join of
// per-aircraft errors and does not stop the others.
func (t *Tracker) RunOnce(ctx context.Context) error {
	if t.Metrics != nil {
		t.Metrics.TicksTotal.Inc()
		t.Metrics.Entities.Set(float64(len(t.Config.Entities)))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(t.Config.Entities))
	for i, e := range t.Config.Entities {
		wg.Add(1)
		go func(i int, e config.Entity) {
			defer wg.Done()
			if err := t.processEntity(ctx, e); err != nil {
				errs[i] = fmt.Errorf("%s: %w", e.ICAO, err)
			}
		}(i, e)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		if t.Metrics != nil {
			t.Metrics.TickErrors.Inc()
		}
		return err
	}
	return nil
}

func (t *Tracker) processEntity(ctx context.Context, e config.Entity) error {
	prev, found, err := t.Store.Load(ctx, e.ICAO)
	if err != nil {
		return err
	}

	report, err := t.Feed.Fetch(ctx, e.ICAO)
	if errors.Is(err, adsb.ErrNoData) {
		t.resetStreak(e.ICAO)
		if !found {
			// Nothing known and nothing heard. Wait for a first fix.
			monitoring.Logf("tracker: %s not yet observed, no data this tick", e.ICAO)
			return nil
		}
		return t.processNoContact(ctx, e, prev)
	}
	if err != nil {
		t.recordFetchFailure(ctx, e, err)
		return err
	}
	t.resetStreak(e.ICAO)

	if !report.HasPosition {
		monitoring.Logf("tracker: %s report from %s has no position, treating as no contact", e.ICAO, report.Source)
		if !found {
			return nil
		}
		return t.processNoContact(ctx, e, prev)
	}

	sample := track.Sample{
		ICAO:          e.ICAO,
		Time:          report.Time,
		Lat:           report.Lat,
		Lon:           report.Lon,
		AltitudeFt:    report.AltitudeFt,
		GroundSpeedKt: report.GroundSpeedKt,
	}

	// First observations normalize against the zero state, so the
	// staleness check is skipped but malformed coordinates still cannot
	// become a ground anchor.
	thresholds := t.Config.Thresholds()
	sample, err = track.Normalize(prev, sample, thresholds)
	if err != nil {
		if t.Metrics != nil {
			t.Metrics.SamplesBad.Inc()
		}
		monitoring.Logf("tracker: %s rejected sample: %v", e.ICAO, err)
		return nil
	}

	if !found {
		next := track.Bootstrap(sample)
		if err := t.Store.Save(ctx, e.ICAO, next); err != nil {
			return err
		}
		monitoring.Logf("tracker: %s first observation at %s, assumed on ground", e.ICAO, next.GroundAnchor)
		return nil
	}

	next, event := track.Decide(prev, sample, thresholds)

	summary, rolled := period.Roll(next.Period, sample.Time)
	next.Period = rolled

	var tr *trip.Trip
	if event != nil && event.Kind == track.EventLanded && event.DepartureFix != nil {
		v := trip.Compute(*event.DepartureFix, event.Fix, t.Config.FuelBurn(e))
		next.Period.Add(v)
		tr = &v
	}

	var departurePlace string
	if event != nil && event.Kind == track.EventDeparted {
		anchor := event.Fix
		if prev.GroundAnchor != nil {
			anchor = *prev.GroundAnchor
		}
		departurePlace = t.Geocoder.ReverseGeocode(ctx, anchor)
		next.DeparturePlace = departurePlace
	}

	if err := t.Store.Save(ctx, e.ICAO, next); err != nil {
		// Unsaved state must not notify, or a crash loop would repeat
		// the same transition every tick.
		return err
	}

	if summary != nil {
		t.dispatchSummary(ctx, e, summary, displayName(e, report.Registration))
	}
	if event != nil {
		t.dispatchEvent(ctx, e, prev, *event, tr, departurePlace, displayName(e, report.Registration))
	}
	return nil
}

// processNoContact applies the idle rule on ticks where no source hears
// the aircraft, and still rolls the period so a summary is not held
// hostage by a transponder going dark over a month boundary.
func (t *Tracker) processNoContact(ctx context.Context, e config.Entity, prev track.State) error {
	now := t.Clock.Now()
	next, event := track.DecideNoContact(prev, e.ICAO, now, t.Config.Thresholds())

	summary, rolled := period.Roll(next.Period, now)
	next.Period = rolled

	if err := t.Store.Save(ctx, e.ICAO, next); err != nil {
		return err
	}

	if summary != nil {
		t.dispatchSummary(ctx, e, summary, displayName(e, ""))
	}
	if event != nil {
		t.dispatchEvent(ctx, e, prev, *event, nil, "", displayName(e, ""))
	}
	return nil
}

func (t *Tracker) dispatchEvent(ctx context.Context, e config.Entity, prev track.State, event track.Event, tr *trip.Trip, departurePlace string, name string) {
	ectx := notify.EventContext{
		DisplayName:   name,
		Event:         event,
		Location:      units.Location(e.Timezone),
		IdleThreshold: t.Config.Thresholds().IdleNotification,
	}

	switch event.Kind {
	case track.EventDeparted:
		ectx.DeparturePlace = departurePlace
	case track.EventLanded:
		ectx.Place = t.Geocoder.ReverseGeocode(ctx, event.Fix)
		if tr != nil && tr.DistanceNm >= t.Config.MinTripDistanceNm {
			ectx.Trip = tr
		}
	case track.EventStillGrounded:
		ectx.Place = t.Geocoder.ReverseGeocode(ctx, event.Fix)
	}

	t.Dispatcher.Dispatch(ctx, notify.Format(ectx))
}

func (t *Tracker) dispatchSummary(ctx context.Context, e config.Entity, s *period.Summary, name string) {
	ectx := notify.EventContext{
		DisplayName: name,
		Event: track.Event{
			Kind: track.EventPeriodSummary,
			ICAO: e.ICAO,
			Time: t.Clock.Now(),
		},
		Summary:  s,
		Location: units.Location(e.Timezone),
	}
	t.Dispatcher.Dispatch(ctx, notify.Format(ectx))
}

// recordFetchFailure counts consecutive all-source failures per aircraft
// and emails the operator once when the streak reaches the configured
// depth. The streak lives in memory: a restart starts the count over,
// which errs on the side of a duplicate alert rather than a missed one.
func (t *Tracker) recordFetchFailure(ctx context.Context, e config.Entity, fetchErr error) {
	if t.Metrics != nil {
		t.Metrics.FetchFailures.WithLabelValues(adsb.SourcePrimary).Inc()
	}

	t.mu.Lock()
	t.streaks[e.ICAO]++
	streak := t.streaks[e.ICAO]
	t.mu.Unlock()

	monitoring.Logf("tracker: %s feed fetch failed (streak %d): %v", e.ICAO, streak, fetchErr)

	if t.Config.FailureEscalationStreak <= 0 || streak != t.Config.FailureEscalationStreak {
		return
	}

	name := displayName(e, "")
	t.Dispatcher.Dispatch(ctx, notify.Message{
		Kind:       track.EventKind("feed_failure"),
		ICAO:       e.ICAO,
		OccurredAt: t.Clock.Now(),
		Subject:    "CRITICAL: Plane Tracker - Feed Sources Failing!",
		Body: fmt.Sprintf(
			"The tracker has failed to retrieve data for %s from every feed source %d polls in a row.\n\nLast error: %v\n\nPlease check the log for details.",
			name, streak, fetchErr),
		EmailOnly: true,
	})
}

func (t *Tracker) resetStreak(icao string) {
	t.mu.Lock()
	delete(t.streaks, icao)
	t.mu.Unlock()
}

// displayName prefers the configured name, then "REG (ICAO)" from the
// feed's registration, then a generic fallback.
func displayName(e config.Entity, registration string) string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	icao := strings.ToUpper(e.ICAO)
	if registration != "" {
		return fmt.Sprintf("%s (%s)", registration, icao)
	}
	return fmt.Sprintf("The aircraft (%s)", icao)
}

package tracker

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/adsb"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/config"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/geocode"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/notify"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/store"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/timeutil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/track"
)

type scriptedFeed struct {
	reports map[string][]adsb.Report
	errs    map[string][]error
	calls   map[string]int
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{
		reports: make(map[string][]adsb.Report),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (f *scriptedFeed) push(icao string, r adsb.Report, err error) {
	f.reports[icao] = append(f.reports[icao], r)
	f.errs[icao] = append(f.errs[icao], err)
}

func (f *scriptedFeed) Fetch(_ context.Context, icao string) (adsb.Report, error) {
	i := f.calls[icao]
	f.calls[icao]++
	if i >= len(f.reports[icao]) {
		return adsb.Report{}, adsb.ErrNoData
	}
	return f.reports[icao][i], f.errs[icao][i]
}

type capturingDispatcher struct {
	messages []notify.Message
}

func (c *capturingDispatcher) Dispatch(_ context.Context, m notify.Message) {
	c.messages = append(c.messages, m)
}

func (c *capturingDispatcher) byKind(kind track.EventKind) []notify.Message {
	var out []notify.Message
	for _, m := range c.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	tracker    *Tracker
	feed       *scriptedFeed
	dispatcher *capturingDispatcher
	clock      *timeutil.MockClock
	store      *store.Store
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Entities = []config.Entity{{ICAO: "a1b2c3", Timezone: "America/Chicago"}}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	st, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	feed := newScriptedFeed()
	dispatcher := &capturingDispatcher{}
	clock := timeutil.NewMockClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	tr := New(cfg, st, feed, geocode.Static{Place: "Austin, Texas, United States"}, dispatcher, clock, nil)
	return &fixture{tracker: tr, feed: feed, dispatcher: dispatcher, clock: clock, store: st}
}

func groundedReport(clock timeutil.Clock, lat, lon float64) adsb.Report {
	return adsb.Report{
		ICAO: "a1b2c3", Registration: "N628TS",
		Lat: lat, Lon: lon, HasPosition: true,
		AltitudeFt: 0, GroundSpeedKt: 0,
		Source: adsb.SourcePrimary, Time: clock.Now(),
	}
}

func airborneReport(clock timeutil.Clock, lat, lon float64) adsb.Report {
	r := groundedReport(clock, lat, lon)
	r.AltitudeFt = 2000
	r.GroundSpeedKt = 180
	return r
}

func TestFirstObservationBootstraps(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)

	require.NoError(t, f.tracker.RunOnce(context.Background()))

	st, found, err := f.store.Load(context.Background(), "a1b2c3")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, track.OnGround, st.Status)
	require.NotNil(t, st.GroundAnchor)
	assert.Equal(t, 30.19, st.GroundAnchor.Lat)
	// Bootstrap is silent: no event for something we never saw move.
	assert.Empty(t, f.dispatcher.messages)
}

func TestFirstObservationRejectsMalformedCoordinates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// A first observation with out-of-range coordinates must not be
	// bootstrapped into a ground anchor.
	f.feed.push("a1b2c3", groundedReport(f.clock, 91.5, -200), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	_, found, err := f.store.Load(ctx, "a1b2c3")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, f.dispatcher.messages)

	// A clean fix on a later tick still bootstraps normally.
	f.clock.Advance(time.Minute)
	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	st, found, err := f.store.Load(ctx, "a1b2c3")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, st.GroundAnchor)
	assert.Equal(t, 30.19, st.GroundAnchor.Lat)
}

func TestDepartureFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	f.clock.Advance(400 * time.Second)
	f.feed.push("a1b2c3", airborneReport(f.clock, 30.21, -97.65), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	msgs := f.dispatcher.byKind(track.EventDeparted)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Posts[0], "N628TS (A1B2C3) has taken off from **Austin, Texas, United States**")
	assert.Contains(t, msgs[0].Posts[0], "CDT")

	st, _, err := f.store.Load(ctx, "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, track.Flying, st.Status)
	assert.Equal(t, "Austin, Texas, United States", st.DeparturePlace)
	require.NotNil(t, st.DepartureFix)
	assert.Equal(t, 30.21, st.DepartureFix.Lat)
}

func TestLandingFlowWithFlightSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	f.clock.Advance(400 * time.Second)
	f.feed.push("a1b2c3", airborneReport(f.clock, 30.21, -97.65), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	f.clock.Advance(3 * time.Hour)
	f.feed.push("a1b2c3", groundedReport(f.clock, 40.64, -73.78), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	msgs := f.dispatcher.byKind(track.EventLanded)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Posts, 2)
	assert.Contains(t, msgs[0].Posts[0], "has landed in")
	assert.Contains(t, msgs[0].Posts[1], "Flight Summary")

	st, _, err := f.store.Load(ctx, "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, track.OnGround, st.Status)
	assert.Equal(t, 1, st.Period.TripCount)
	assert.InDelta(t, 1319, st.Period.DistanceNm, 20)
}

func TestShortHopSuppressesFlightSummaryButCounts(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MinTripDistanceNm = 5 })
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	f.clock.Advance(400 * time.Second)
	f.feed.push("a1b2c3", airborneReport(f.clock, 30.195, -97.668), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	f.clock.Advance(400 * time.Second)
	f.feed.push("a1b2c3", groundedReport(f.clock, 30.2, -97.66), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	msgs := f.dispatcher.byKind(track.EventLanded)
	require.Len(t, msgs, 1)
	// Landing is announced, the emissions math is not.
	require.Len(t, msgs[0].Posts, 1)

	st, _, err := f.store.Load(ctx, "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Period.TripCount)
	assert.Greater(t, st.Period.DistanceNm, 0.0)
}

func TestNoContactIdleNotice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	// Feed script exhausted: every further fetch is ErrNoData.
	f.clock.Advance(13 * time.Hour)
	require.NoError(t, f.tracker.RunOnce(ctx))

	msgs := f.dispatcher.byKind(track.EventStillGrounded)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Posts[0], "idle on the ground at **Austin, Texas, United States** for over 12 hours")

	// Another silent tick an hour later stays quiet.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.tracker.RunOnce(ctx))
	assert.Len(t, f.dispatcher.byKind(track.EventStillGrounded), 1)
}

func TestNoContactBeforeFirstObservationIsQuiet(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.tracker.RunOnce(context.Background()))
	assert.Empty(t, f.dispatcher.messages)

	_, found, err := f.store.Load(context.Background(), "a1b2c3")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPeriodSummaryOnMonthBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	// Complete one trip in August.
	f.clock.Advance(400 * time.Second)
	f.feed.push("a1b2c3", airborneReport(f.clock, 30.21, -97.65), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))
	f.clock.Advance(3 * time.Hour)
	f.feed.push("a1b2c3", groundedReport(f.clock, 40.64, -73.78), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	// First tick in September rolls the period.
	f.clock.Set(time.Date(2026, 9, 1, 0, 5, 0, 0, time.UTC))
	f.feed.push("a1b2c3", groundedReport(f.clock, 40.64, -73.78), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	msgs := f.dispatcher.byKind(track.EventPeriodSummary)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Posts[0], "monthly report for August 2026")
	assert.Contains(t, msgs[0].Body, "**Flights:** 1")

	// A second September tick does not repeat it.
	f.clock.Advance(time.Minute)
	f.feed.push("a1b2c3", groundedReport(f.clock, 40.64, -73.78), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))
	assert.Len(t, f.dispatcher.byKind(track.EventPeriodSummary), 1)
}

func TestFetchFailureEscalation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		f.feed.push("a1b2c3", adsb.Report{}, adsb.ErrAllSourcesFailed)
		err := f.tracker.RunOnce(ctx)
		require.Error(t, err)
	}

	// Exactly one operator alert, email only, at the third consecutive
	// failure.
	alerts := f.dispatcher.byKind("feed_failure")
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].EmailOnly)
	assert.Contains(t, alerts[0].Subject, "CRITICAL")

	// A fourth failure does not re-alert.
	f.clock.Advance(time.Minute)
	f.feed.push("a1b2c3", adsb.Report{}, adsb.ErrAllSourcesFailed)
	require.Error(t, f.tracker.RunOnce(ctx))
	assert.Len(t, f.dispatcher.byKind("feed_failure"), 1)

	// A successful tick resets the streak; three more failures alert
	// again.
	f.clock.Advance(time.Minute)
	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		f.feed.push("a1b2c3", adsb.Report{}, adsb.ErrAllSourcesFailed)
		require.Error(t, f.tracker.RunOnce(ctx))
	}
	assert.Len(t, f.dispatcher.byKind("feed_failure"), 2)
}

func TestRejectedSampleLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	// A report with garbage coordinates is dropped without error.
	f.clock.Advance(time.Minute)
	bad := airborneReport(f.clock, 120, -97.67)
	f.feed.push("a1b2c3", bad, nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	st, _, err := f.store.Load(ctx, "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, track.OnGround, st.Status)
	assert.Empty(t, f.dispatcher.messages)
}

func TestUnknownAltitudeAndSpeedStayGrounded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.feed.push("a1b2c3", groundedReport(f.clock, 30.19, -97.67), nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	f.clock.Advance(400 * time.Second)
	r := groundedReport(f.clock, 30.19, -97.67)
	r.AltitudeFt = math.NaN()
	r.GroundSpeedKt = math.NaN()
	f.feed.push("a1b2c3", r, nil)
	require.NoError(t, f.tracker.RunOnce(ctx))

	assert.Empty(t, f.dispatcher.messages)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.PollIntervalSeconds = 1 })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.tracker.Start(ctx)
	f.tracker.Stop()
	// Stop closes the loop; a second RunOnce still works directly.
	require.NoError(t, f.tracker.RunOnce(ctx))
}

// blockingFeed holds every Fetch open for a fixed duration and records
// how many were in flight at once.
type blockingFeed struct {
	mu        sync.Mutex
	hold      time.Duration
	calls     int
	active    int
	maxActive int
}

func (f *blockingFeed) Fetch(context.Context, string) (adsb.Report, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	time.Sleep(f.hold)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return adsb.Report{}, adsb.ErrNoData
}

func TestRunSerializesInitialPollWithTicker(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.PollIntervalSeconds = 1 })
	feed := &blockingFeed{hold: 1500 * time.Millisecond}
	f.tracker.Feed = feed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first poll outlasts the poll interval. The ticker must not
	// begin until it completes, so no two polls ever hit the feed for
	// the same aircraft at once.
	f.tracker.Run(ctx)
	time.Sleep(3 * time.Second)
	f.tracker.Stop()

	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.GreaterOrEqual(t, feed.calls, 2)
	assert.Equal(t, 1, feed.maxActive)
}

// Package adsb fetches position reports for a single aircraft from the
// public ADS-B aggregator APIs. adsb.lol is the primary source; adsb.fi
// is consulted only when the primary transport fails. A source that
// answers cleanly with no aircraft is authoritative: the aircraft is not
// transmitting, and failing over would only manufacture disagreement
// between feeds.
package adsb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/httputil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/retry"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/timeutil"
)

const (
	DefaultPrimaryURL  = "https://api.adsb.lol/v2/hex/%s"
	DefaultFailoverURL = "https://opendata.adsb.fi/api/v2/hex/%s"

	SourcePrimary  = "adsb.lol"
	SourceFailover = "adsb.fi"

	defaultUserAgent = "generic-plane-tracker/1.0"

	// maxResponseBytes caps a single feed response. A hex query returns
	// at most one aircraft; anything near this size is garbage.
	maxResponseBytes = 1 << 20
)

// ErrNoData means every consulted source answered successfully but none
// is currently hearing the aircraft.
var ErrNoData = errors.New("no aircraft data from any source")

// ErrAllSourcesFailed means no source could be reached at all.
var ErrAllSourcesFailed = errors.New("all feed sources failed")

// Report is one position report, normalized across sources. AltitudeFt
// and GroundSpeedKt are NaN when the field is absent from the feed.
type Report struct {
	ICAO          string
	Registration  string
	Lat           float64
	Lon           float64
	HasPosition   bool
	AltitudeFt    float64
	GroundSpeedKt float64
	Source        string
	Time          time.Time
}

// FeetOrGround decodes the feed's barometric altitude, which is either a
// number of feet or the literal string "ground".
type FeetOrGround float64

func (f *FeetOrGround) UnmarshalJSON(b []byte) error {
	if string(b) == `"ground"` {
		*f = 0
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("bad altitude value %s: %w", b, err)
	}
	*f = FeetOrGround(v)
	return nil
}

type aircraft struct {
	Hex     string        `json:"hex"`
	Flight  string        `json:"flight"`
	Lat     *float64      `json:"lat"`
	Lon     *float64      `json:"lon"`
	AltBaro *FeetOrGround `json:"alt_baro"`
	GS      *float64      `json:"gs"`
}

type response struct {
	Ac []aircraft `json:"ac"`
}

// Client queries the aggregator APIs. Primary and Failover are URL
// templates with one %s verb for the ICAO hex code.
type Client struct {
	HTTP      httputil.HTTPClient
	Clock     timeutil.Clock
	Primary   string
	Failover  string
	Retry     retry.Policy
	UserAgent string
}

func NewClient(http httputil.HTTPClient, clock timeutil.Clock, policy retry.Policy) *Client {
	return &Client{
		HTTP:      http,
		Clock:     clock,
		Primary:   DefaultPrimaryURL,
		Failover:  DefaultFailoverURL,
		Retry:     policy,
		UserAgent: defaultUserAgent,
	}
}

// Fetch returns the current report for icao. It returns ErrNoData when
// the consulted sources are reachable but silent, and an error wrapping
// ErrAllSourcesFailed when neither source could be reached.
func (c *Client) Fetch(ctx context.Context, icao string) (Report, error) {
	r, primaryErr := c.fetchSource(ctx, c.Primary, SourcePrimary, icao)
	if primaryErr == nil {
		return r, nil
	}
	if errors.Is(primaryErr, ErrNoData) {
		// The primary heard us and said "nothing here". Trust it.
		return Report{}, primaryErr
	}

	monitoring.Logf("feed: %s failed (%v), trying %s", SourcePrimary, primaryErr, SourceFailover)
	r, failoverErr := c.fetchSource(ctx, c.Failover, SourceFailover, icao)
	if failoverErr == nil {
		return r, nil
	}
	if errors.Is(failoverErr, ErrNoData) {
		return Report{}, failoverErr
	}
	return Report{}, fmt.Errorf("%w: %s: %v; %s: %v",
		ErrAllSourcesFailed, SourcePrimary, primaryErr, SourceFailover, failoverErr)
}

func (c *Client) fetchSource(ctx context.Context, urlTemplate, source, icao string) (Report, error) {
	var out Report
	err := c.Retry.Do(ctx, func() error {
		r, err := c.fetchOnce(ctx, urlTemplate, source, icao)
		if err != nil {
			if errors.Is(err, ErrNoData) {
				// A clean empty answer will not improve on retry.
				return retry.Permanent(err)
			}
			monitoring.Logf("feed: %s fetch attempt failed: %v", source, err)
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (c *Client) fetchOnce(ctx context.Context, urlTemplate, source, icao string) (Report, error) {
	url := fmt.Sprintf(urlTemplate, icao)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Report{}, fmt.Errorf("failed to build request for %s: %w", source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("request to %s failed: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("%s returned status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Report{}, fmt.Errorf("failed to read %s response: %w", source, err)
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Report{}, fmt.Errorf("failed to decode %s response: %w", source, err)
	}
	if len(parsed.Ac) == 0 {
		return Report{}, fmt.Errorf("%s: %w", source, ErrNoData)
	}

	ac := parsed.Ac[0]
	r := Report{
		ICAO:          icao,
		Registration:  strings.TrimSpace(ac.Flight),
		AltitudeFt:    math.NaN(),
		GroundSpeedKt: math.NaN(),
		Source:        source,
		Time:          c.Clock.Now(),
	}
	if ac.Lat != nil && ac.Lon != nil {
		r.Lat, r.Lon = *ac.Lat, *ac.Lon
		r.HasPosition = true
	}
	if ac.AltBaro != nil {
		r.AltitudeFt = float64(*ac.AltBaro)
	}
	if ac.GS != nil {
		r.GroundSpeedKt = *ac.GS
	}
	return r, nil
}

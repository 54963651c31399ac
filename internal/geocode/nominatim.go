// Package geocode turns coordinates into place names via the Nominatim
// reverse-geocoding API. Geocoding is decorative: every failure mode
// degrades to a readable fallback string instead of an error, so a
// notification never blocks on OpenStreetMap being reachable.
package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/geo"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/httputil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// UnknownPlace is the reader-facing fallback when no place name can
	// be resolved.
	UnknownPlace = "an unknown location"

	defaultUserAgent = "generic-plane-tracker/1.0"

	maxResponseBytes = 1 << 20
)

// Geocoder resolves a fix to a human-readable place name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, fix geo.Fix) string
}

// Nominatim is the production Geocoder.
type Nominatim struct {
	HTTP      httputil.HTTPClient
	BaseURL   string
	UserAgent string
}

func NewNominatim(http httputil.HTTPClient) *Nominatim {
	return &Nominatim{
		HTTP:      http,
		BaseURL:   DefaultBaseURL,
		UserAgent: defaultUserAgent,
	}
}

type address struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type reverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
}

// ReverseGeocode returns "City, State, Country" for the fix, falling back
// through coarser address parts, then the provider's display name, then
// UnknownPlace. It never returns an error.
func (n *Nominatim) ReverseGeocode(ctx context.Context, fix geo.Fix) string {
	if !geo.ValidCoordinates(fix.Lat, fix.Lon) {
		return UnknownPlace
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", fix.Lat))
	q.Set("lon", fmt.Sprintf("%f", fix.Lon))
	reqURL := fmt.Sprintf("%s/reverse?%s", strings.TrimRight(n.BaseURL, "/"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		monitoring.Logf("geocode: failed to build request: %v", err)
		return UnknownPlace
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", n.UserAgent)

	resp, err := n.HTTP.Do(req)
	if err != nil {
		monitoring.Logf("geocode: request failed for %s: %v", fix, err)
		return UnknownPlace
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		monitoring.Logf("geocode: status %d for %s", resp.StatusCode, fix)
		return UnknownPlace
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		monitoring.Logf("geocode: failed to read response for %s: %v", fix, err)
		return UnknownPlace
	}

	var parsed reverseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		monitoring.Logf("geocode: failed to decode response for %s: %v", fix, err)
		return UnknownPlace
	}

	city := parsed.Address.City
	if city == "" {
		city = parsed.Address.Town
	}
	if city == "" {
		city = parsed.Address.Village
	}

	var parts []string
	for _, p := range []string{city, parsed.Address.State, parsed.Address.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	if parsed.DisplayName != "" {
		return parsed.DisplayName
	}
	return UnknownPlace
}

// Static is a fixed-answer Geocoder for tests and the simulator.
type Static struct {
	Place string
}

func (s Static) ReverseGeocode(context.Context, geo.Fix) string {
	if s.Place == "" {
		return UnknownPlace
	}
	return s.Place
}

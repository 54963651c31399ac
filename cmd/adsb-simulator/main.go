// adsb-simulator serves a scripted aircraft over the same /v2/hex/{icao}
// shape as the public aggregator APIs, so a tracker can be pointed at
// localhost and walked through a full flight without waiting for a real
// aircraft to move. The aircraft cycles parked, takeoff, cruise, descent,
// and back to parked.
package main

import (
	"flag"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var (
	listen       = flag.String("listen", ":8090", "Listen address")
	icao         = flag.String("icao", "a1b2c3", "ICAO hex code to simulate")
	callsign     = flag.String("callsign", "N628TS", "Callsign to report")
	phaseSeconds = flag.Int("phase-seconds", 600, "Seconds spent in each flight phase")
	startLat     = flag.Float64("lat", 30.1945, "Parked latitude")
	startLon     = flag.Float64("lon", -97.6699, "Parked longitude")
)

type phase struct {
	name       string
	altitudeFt float64
	speedKt    float64
	trackDeg   float64
	moving     bool
}

// One full cycle: sit, depart northeast, cruise, descend, sit again.
var phases = []phase{
	{name: "parked", altitudeFt: 0, speedKt: 0},
	{name: "taxi", altitudeFt: 0, speedKt: 15, trackDeg: 45, moving: true},
	{name: "climb", altitudeFt: 8000, speedKt: 250, trackDeg: 45, moving: true},
	{name: "cruise", altitudeFt: 41000, speedKt: 480, trackDeg: 60, moving: true},
	{name: "descent", altitudeFt: 3000, speedKt: 220, trackDeg: 60, moving: true},
	{name: "landed", altitudeFt: 0, speedKt: 10, trackDeg: 60, moving: true},
	{name: "parked", altitudeFt: 0, speedKt: 0},
}

const earthRadiusNm = 3440.065

type simulator struct {
	mu      sync.Mutex
	lat     float64
	lon     float64
	started time.Time
	last    time.Time
}

func (s *simulator) currentPhase(now time.Time) phase {
	elapsed := int(now.Sub(s.started).Seconds())
	idx := (elapsed / *phaseSeconds) % len(phases)
	return phases[idx]
}

// advance moves the aircraft along its track for the time since the last
// query, using the current phase's ground speed.
func (s *simulator) advance(now time.Time) phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.currentPhase(now)
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if !p.moving || dt <= 0 {
		return p
	}

	distanceNm := p.speedKt * dt / 3600
	trackRad := p.trackDeg * math.Pi / 180
	latRad := s.lat * math.Pi / 180
	lonRad := s.lon * math.Pi / 180
	angular := distanceNm / earthRadiusNm

	newLatRad := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(trackRad))
	newLonRad := lonRad + math.Atan2(math.Sin(trackRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(newLatRad))

	s.lat = newLatRad * 180 / math.Pi
	s.lon = math.Mod(newLonRad*180/math.Pi+180, 360) - 180
	return p
}

func (s *simulator) handleHex(w http.ResponseWriter, r *http.Request) {
	requested := strings.TrimPrefix(r.URL.Path, "/v2/hex/")
	if !strings.EqualFold(requested, *icao) {
		// Unknown aircraft: the real APIs answer with an empty list.
		writeJSON(w, map[string]any{"ac": []any{}, "now": float64(time.Now().UnixMilli())})
		return
	}

	now := time.Now()
	p := s.advance(now)

	var altBaro any = p.altitudeFt
	if p.altitudeFt == 0 {
		altBaro = "ground"
	}

	s.mu.Lock()
	ac := map[string]any{
		"hex":      *icao,
		"flight":   *callsign + "  ",
		"lat":      s.lat,
		"lon":      s.lon,
		"alt_baro": altBaro,
		"gs":       p.speedKt,
		"track":    p.trackDeg,
	}
	s.mu.Unlock()

	log.Printf("served %s: phase=%s alt=%v gs=%.0f", *icao, p.name, altBaro, p.speedKt)
	writeJSON(w, map[string]any{"ac": []any{ac}, "now": float64(now.UnixMilli())})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func main() {
	flag.Parse()

	now := time.Now()
	sim := &simulator{lat: *startLat, lon: *startLon, started: now, last: now}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/hex/", sim.handleHex)

	log.Printf("simulating %s (%s) from %.4f,%.4f; %ds per phase",
		*icao, *callsign, *startLat, *startLon, *phaseSeconds)
	log.Printf("feed listening on %s", *listen)
	if err := http.ListenAndServe(*listen, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

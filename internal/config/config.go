// Package config loads and validates the tracker configuration from a
// JSON file. Fields omitted from the file retain their defaults, so
// partial configs are safe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/retry"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/track"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/units"
)

// Entity is one tracked aircraft.
type Entity struct {
	// ICAO is the 24-bit hex transponder code, lowercase.
	ICAO string `json:"icao"`

	// DisplayName overrides the derived "REG (ICAO)" name when set.
	DisplayName string `json:"display_name,omitempty"`

	// FuelBurnGalPerNm overrides the default burn rate when positive.
	FuelBurnGalPerNm float64 `json:"fuel_burn_gal_per_nm,omitempty"`

	// Timezone is the IANA zone used to render local times for this
	// aircraft's notifications. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

type BlueskyConfig struct {
	Handle      string `json:"handle,omitempty"`
	AppPassword string `json:"app_password,omitempty"`
	TestMode    bool   `json:"test_mode,omitempty"`
}

type EmailConfig struct {
	SMTPAddr  string `json:"smtp_addr,omitempty"`
	From      string `json:"from,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Entities []Entity `json:"entities"`

	// PollIntervalSeconds is the tick cadence of the tracker loop.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`

	AltitudeThresholdFt    float64 `json:"altitude_threshold_ft,omitempty"`
	GroundSpeedThresholdKt float64 `json:"ground_speed_threshold_kt,omitempty"`
	MinStateChangeSeconds  int     `json:"min_state_change_seconds,omitempty"`
	IdleNotificationHours  int     `json:"idle_notification_hours,omitempty"`
	ClockSkewSeconds       int     `json:"clock_skew_seconds,omitempty"`

	DefaultFuelBurnGalPerNm float64 `json:"default_fuel_burn_gal_per_nm,omitempty"`

	// MinTripDistanceNm suppresses the flight-summary post for trips
	// shorter than this. The trip still counts toward the period.
	MinTripDistanceNm float64 `json:"min_trip_distance_nm,omitempty"`

	RetryCount        int `json:"retry_count,omitempty"`
	RetryDelaySeconds int `json:"retry_delay_seconds,omitempty"`

	// FailureEscalationStreak is the number of consecutive all-source
	// feed failures for one aircraft before the operator is emailed.
	FailureEscalationStreak int `json:"failure_escalation_streak,omitempty"`

	PrimaryFeedURL  string `json:"primary_feed_url,omitempty"`
	FailoverFeedURL string `json:"failover_feed_url,omitempty"`
	GeocoderBaseURL string `json:"geocoder_base_url,omitempty"`

	Bluesky BlueskyConfig `json:"bluesky,omitempty"`
	Email   EmailConfig   `json:"email,omitempty"`
}

// Defaults returns the config used when a field is omitted.
func Defaults() Config {
	return Config{
		PollIntervalSeconds:     60,
		AltitudeThresholdFt:     500,
		GroundSpeedThresholdKt:  50,
		MinStateChangeSeconds:   300,
		IdleNotificationHours:   12,
		ClockSkewSeconds:        30,
		DefaultFuelBurnGalPerNm: 0.97,
		RetryCount:              2,
		RetryDelaySeconds:       2,
		FailureEscalationStreak: 3,
	}
}

// Load reads and validates the config at path, layering it over
// Defaults.
func Load(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configs the tracker cannot run with.
func (c Config) Validate() error {
	if len(c.Entities) == 0 {
		return fmt.Errorf("at least one entity is required")
	}
	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if e.ICAO == "" {
			return fmt.Errorf("entity %d: icao is required", i)
		}
		if seen[e.ICAO] {
			return fmt.Errorf("entity %d: duplicate icao %q", i, e.ICAO)
		}
		seen[e.ICAO] = true
		if e.Timezone != "" && !units.IsTimezoneValid(e.Timezone) {
			return fmt.Errorf("entity %s: unknown timezone %q", e.ICAO, e.Timezone)
		}
		if e.FuelBurnGalPerNm < 0 {
			return fmt.Errorf("entity %s: negative fuel burn rate", e.ICAO)
		}
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive")
	}
	if c.AltitudeThresholdFt <= 0 || c.GroundSpeedThresholdKt <= 0 {
		return fmt.Errorf("thresholds must be positive")
	}
	if c.MinStateChangeSeconds < 0 || c.IdleNotificationHours < 0 {
		return fmt.Errorf("debounce and idle windows must not be negative")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	return nil
}

// Thresholds assembles the state-machine thresholds.
func (c Config) Thresholds() track.Thresholds {
	return track.Thresholds{
		AltitudeFt:         c.AltitudeThresholdFt,
		GroundSpeedKt:      c.GroundSpeedThresholdKt,
		MinStateChange:     time.Duration(c.MinStateChangeSeconds) * time.Second,
		IdleNotification:   time.Duration(c.IdleNotificationHours) * time.Hour,
		ClockSkewTolerance: time.Duration(c.ClockSkewSeconds) * time.Second,
	}
}

// RetryPolicy assembles the feed retry policy. RetryCount is the number
// of retries after the first attempt.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryCount + 1,
		Delay:       time.Duration(c.RetryDelaySeconds) * time.Second,
	}
}

// PollInterval is the tick cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FuelBurn returns the burn rate for one entity.
func (c Config) FuelBurn(e Entity) float64 {
	if e.FuelBurnGalPerNm > 0 {
		return e.FuelBurnGalPerNm
	}
	return c.DefaultFuelBurnGalPerNm
}

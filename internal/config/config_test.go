package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "tracker.json", `{"entities":[{"icao":"a1b2c3"}]}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.PollIntervalSeconds)
	assert.Equal(t, 500.0, cfg.AltitudeThresholdFt)
	assert.Equal(t, 50.0, cfg.GroundSpeedThresholdKt)
	assert.Equal(t, 300, cfg.MinStateChangeSeconds)
	assert.Equal(t, 12, cfg.IdleNotificationHours)
	assert.Equal(t, 0.97, cfg.DefaultFuelBurnGalPerNm)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.Equal(t, 3, cfg.FailureEscalationStreak)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, "tracker.json", `{
		"entities": [
			{"icao": "a1b2c3", "display_name": "Test Jet", "fuel_burn_gal_per_nm": 1.2, "timezone": "America/Chicago"},
			{"icao": "d4e5f6"}
		],
		"poll_interval_seconds": 30,
		"altitude_threshold_ft": 1000,
		"idle_notification_hours": 6,
		"bluesky": {"handle": "tracker.bsky.social", "app_password": "secret"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Entities, 2)
	assert.Equal(t, "Test Jet", cfg.Entities[0].DisplayName)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 1000.0, cfg.Thresholds().AltitudeFt)
	assert.Equal(t, 6*time.Hour, cfg.Thresholds().IdleNotification)
	assert.Equal(t, "tracker.bsky.social", cfg.Bluesky.Handle)

	// Per-entity fuel burn falls back to the default.
	assert.Equal(t, 1.2, cfg.FuelBurn(cfg.Entities[0]))
	assert.Equal(t, 0.97, cfg.FuelBurn(cfg.Entities[1]))
}

func TestLoadRejections(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "tracker.yaml", `{}`, ".json extension"},
		{"bad json", "tracker.json", `{`, "parse"},
		{"no entities", "tracker.json", `{"entities":[]}`, "at least one entity"},
		{"missing icao", "tracker.json", `{"entities":[{"display_name":"x"}]}`, "icao is required"},
		{"duplicate icao", "tracker.json", `{"entities":[{"icao":"a1b2c3"},{"icao":"a1b2c3"}]}`, "duplicate icao"},
		{"bad timezone", "tracker.json", `{"entities":[{"icao":"a1b2c3","timezone":"Mars/Olympus"}]}`, "unknown timezone"},
		{"zero poll interval", "tracker.json", `{"entities":[{"icao":"a1b2c3"}],"poll_interval_seconds":-5}`, "poll_interval_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	cfg := Defaults()
	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Delay)
}

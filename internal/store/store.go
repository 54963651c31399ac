// Package store persists per-aircraft tracking state and the event
// ledger in sqlite. One row per aircraft in track_state; events is an
// append-only record of every notification that fired.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/geo"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/track"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	*sql.DB
}

// Open opens (or creates) the sqlite database at path and runs all
// pending migrations. Opening an already-migrated database is a no-op.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialized writes; the tracker ticks entities concurrently.
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: we don't close m here because it would close the underlying
	// DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Load returns the persisted state for one aircraft. An aircraft that
// has never been observed returns a zero State and found=false; the
// caller bootstraps from its first sample.
func (s *Store) Load(ctx context.Context, icao string) (track.State, bool, error) {
	row := s.QueryRowContext(ctx, `
		SELECT schema_version, status, last_transition, ground_anchor,
		       departure_fix, departure_place, last_idle_notice, period
		FROM track_state WHERE icao = ?`, icao)

	var (
		st             track.State
		lastTransition string
		groundAnchor   sql.NullString
		departureFix   sql.NullString
		lastIdleNotice sql.NullString
		periodJSON     string
	)
	err := row.Scan(&st.SchemaVersion, &st.Status, &lastTransition, &groundAnchor,
		&departureFix, &st.DeparturePlace, &lastIdleNotice, &periodJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return track.State{}, false, nil
	}
	if err != nil {
		return track.State{}, false, fmt.Errorf("failed to load state for %s: %w", icao, err)
	}

	if st.LastTransition, err = parseTime(lastTransition); err != nil {
		return track.State{}, false, fmt.Errorf("bad last_transition for %s: %w", icao, err)
	}
	if lastIdleNotice.Valid && lastIdleNotice.String != "" {
		if st.LastIdleNotice, err = parseTime(lastIdleNotice.String); err != nil {
			return track.State{}, false, fmt.Errorf("bad last_idle_notice for %s: %w", icao, err)
		}
	}
	if st.GroundAnchor, err = parseFix(groundAnchor); err != nil {
		return track.State{}, false, fmt.Errorf("bad ground_anchor for %s: %w", icao, err)
	}
	if st.DepartureFix, err = parseFix(departureFix); err != nil {
		return track.State{}, false, fmt.Errorf("bad departure_fix for %s: %w", icao, err)
	}
	if err := json.Unmarshal([]byte(periodJSON), &st.Period); err != nil {
		return track.State{}, false, fmt.Errorf("bad period for %s: %w", icao, err)
	}
	return st, true, nil
}

// Save upserts the state row for one aircraft. It runs before any
// notification is dispatched so that a crash between the two produces a
// missed notice, never a duplicate transition.
func (s *Store) Save(ctx context.Context, icao string, st track.State) error {
	groundAnchor, err := formatFix(st.GroundAnchor)
	if err != nil {
		return fmt.Errorf("failed to encode ground_anchor for %s: %w", icao, err)
	}
	departureFix, err := formatFix(st.DepartureFix)
	if err != nil {
		return fmt.Errorf("failed to encode departure_fix for %s: %w", icao, err)
	}
	periodJSON, err := json.Marshal(st.Period)
	if err != nil {
		return fmt.Errorf("failed to encode period for %s: %w", icao, err)
	}

	var lastIdle any
	if !st.LastIdleNotice.IsZero() {
		lastIdle = formatTime(st.LastIdleNotice)
	}

	_, err = s.ExecContext(ctx, `
		INSERT INTO track_state
			(icao, schema_version, status, last_transition, ground_anchor,
			 departure_fix, departure_place, last_idle_notice, period, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(icao) DO UPDATE SET
			schema_version   = excluded.schema_version,
			status           = excluded.status,
			last_transition  = excluded.last_transition,
			ground_anchor    = excluded.ground_anchor,
			departure_fix    = excluded.departure_fix,
			departure_place  = excluded.departure_place,
			last_idle_notice = excluded.last_idle_notice,
			period           = excluded.period,
			updated_at       = CURRENT_TIMESTAMP`,
		icao, st.SchemaVersion, st.Status, formatTime(st.LastTransition),
		groundAnchor, departureFix, st.DeparturePlace, lastIdle, string(periodJSON))
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", icao, err)
	}
	return nil
}

// EntityState pairs an aircraft with its persisted state for listing.
type EntityState struct {
	ICAO  string      `json:"icao"`
	State track.State `json:"state"`
}

// List returns the state of every aircraft the store knows about,
// ordered by identifier.
func (s *Store) List(ctx context.Context) ([]EntityState, error) {
	rows, err := s.QueryContext(ctx, `SELECT icao FROM track_state ORDER BY icao`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var icaos []string
	for rows.Next() {
		var icao string
		if err := rows.Scan(&icao); err != nil {
			return nil, err
		}
		icaos = append(icaos, icao)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]EntityState, 0, len(icaos))
	for _, icao := range icaos {
		st, found, err := s.Load(ctx, icao)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, EntityState{ICAO: icao, State: st})
		}
	}
	return out, nil
}

// LedgerEntry is one dispatched notification in the append-only ledger.
type LedgerEntry struct {
	ID         string          `json:"id"`
	ICAO       string          `json:"icao"`
	Kind       track.EventKind `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
}

// RecordEvent appends one entry to the event ledger.
func (s *Store) RecordEvent(ctx context.Context, e LedgerEntry) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO events (id, icao, kind, occurred_at, subject, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ICAO, e.Kind, formatTime(e.OccurredAt), e.Subject, e.Body)
	if err != nil {
		return fmt.Errorf("failed to record event %s: %w", e.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit ledger entries, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.QueryContext(ctx, `
		SELECT id, icao, kind, occurred_at, subject, body
		FROM events ORDER BY occurred_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e          LedgerEntry
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.ICAO, &e.Kind, &occurredAt, &e.Subject, &e.Body); err != nil {
			return nil, err
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("bad occurred_at for event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatFix(f *geo.Fix) (any, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func parseFix(col sql.NullString) (*geo.Fix, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var f geo.Fix
	if err := json.Unmarshal([]byte(col.String), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rendis/circletap/internal/model"
)

// ErrNotFound is returned when a run or blob does not exist.
var ErrNotFound = errors.New("not found")

// Store persists search runs and small state blobs in a local SQLite file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		center_lat REAL NOT NULL,
		center_lng REAL NOT NULL,
		radius_m REAL NOT NULL,
		status TEXT NOT NULL,
		requested INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		raw_count INTEGER NOT NULL,
		normalized INTEGER NOT NULL,
		dropped_no_location INTEGER NOT NULL,
		dropped_outside INTEGER NOT NULL,
		duplicates_removed INTEGER NOT NULL,
		total INTEGER NOT NULL,
		duplicates_json TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS places (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		place_id TEXT,
		name TEXT NOT NULL,
		address TEXT,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		types TEXT,
		rating REAL,
		user_rating_count INTEGER,
		price_level TEXT,
		website TEXT,
		search_source INTEGER NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_places_place_id ON places(place_id);
	CREATE INDEX IF NOT EXISTS idx_places_source ON places(search_source);
	CREATE INDEX IF NOT EXISTS idx_places_coords ON places(lat, lng);
	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		spec_id INTEGER NOT NULL,
		label TEXT,
		center_lat REAL,
		center_lng REAL,
		radius_m REAL,
		raw_count INTEGER,
		kept INTEGER,
		error TEXT,
		duration_ms INTEGER,
		PRIMARY KEY (run_id, spec_id)
	);
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// SaveRun writes a finished search with its places and per-spec outcomes.
func (s *Store) SaveRun(ctx context.Context, r *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dups, err := json.Marshal(r.Duplicates)
	if err != nil {
		return fmt.Errorf("encoding duplicates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	st := r.Stats
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, center_lat, center_lng, radius_m, status, requested, failed,
			raw_count, normalized, dropped_no_location, dropped_outside, duplicates_removed,
			total, duplicates_json, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Circle.Center.Lat, r.Circle.Center.Lng, r.Circle.RadiusMeters, string(r.Status()),
		st.Requested, st.Failed, st.Raw, st.Normalized, st.DroppedNoLocation, st.DroppedOutside,
		st.DuplicatesRemoved, st.Total, string(dups), r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	placeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO places (run_id, position, place_id, name, address, lat, lng, types,
			rating, user_rating_count, price_level, website, search_source)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("preparing stmt: %w", err)
	}
	defer placeStmt.Close()

	for i, p := range r.Places {
		types, _ := json.Marshal(p.Types)
		var rating sql.NullFloat64
		if p.Rating != nil {
			rating = sql.NullFloat64{Float64: *p.Rating, Valid: true}
		}
		if _, err := placeStmt.ExecContext(ctx,
			r.RunID, i, p.ID, p.Name, p.Address, p.Location.Lat, p.Location.Lng, string(types),
			rating, p.UserRatingCount, p.PriceLevel, p.WebsiteURI, p.SearchSource,
		); err != nil {
			return fmt.Errorf("inserting place %d: %w", i, err)
		}
	}

	for _, o := range r.Outcomes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes (run_id, spec_id, label, center_lat, center_lng, radius_m,
				raw_count, kept, error, duration_ms)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			r.RunID, o.SpecID, o.Label, o.Center.Lat, o.Center.Lng, o.Radius,
			o.RawCount, o.Kept, o.Error, o.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("inserting outcome %d: %w", o.SpecID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}
	return nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	ID         string
	Circle     model.Circle
	Status     model.Status
	Requested  int
	Failed     int
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, center_lat, center_lng, radius_m, status, requested, failed, total, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var status string
		if err := rows.Scan(&rs.ID, &rs.Circle.Center.Lat, &rs.Circle.Center.Lng, &rs.Circle.RadiusMeters,
			&status, &rs.Requested, &rs.Failed, &rs.Total, &rs.StartedAt, &rs.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rs.Status = model.Status(status)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// LatestRun loads the most recent run in full.
func (s *Store) LatestRun(ctx context.Context) (*model.Result, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun loads one run with its places and outcomes.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Result, error) {
	r := &model.Result{RunID: id}
	var dups sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT center_lat, center_lng, radius_m, status, requested, failed, raw_count, normalized,
			dropped_no_location, dropped_outside, duplicates_removed, total, duplicates_json,
			started_at, finished_at
		FROM runs WHERE id = ?`, id).Scan(
		&r.Circle.Center.Lat, &r.Circle.Center.Lng, &r.Circle.RadiusMeters, &status,
		&r.Stats.Requested, &r.Stats.Failed, &r.Stats.Raw, &r.Stats.Normalized,
		&r.Stats.DroppedNoLocation, &r.Stats.DroppedOutside, &r.Stats.DuplicatesRemoved, &r.Stats.Total,
		&dups, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if dups.Valid && dups.String != "" {
		if err := json.Unmarshal([]byte(dups.String), &r.Duplicates); err != nil {
			return nil, fmt.Errorf("decoding duplicates: %w", err)
		}
	}

	if r.Places, err = s.LoadPlaces(ctx, id); err != nil {
		return nil, err
	}
	if r.Outcomes, err = s.loadOutcomes(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadPlaces returns the places of a run in their stored order. An empty
// runID selects the latest run.
func (s *Store) LoadPlaces(ctx context.Context, runID string) ([]model.Place, error) {
	if runID == "" {
		err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("querying latest run: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT place_id, name, address, lat, lng, types, rating, user_rating_count,
			price_level, website, search_source
		FROM places WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying places: %w", err)
	}
	defer rows.Close()

	var out []model.Place
	for rows.Next() {
		var p model.Place
		var types sql.NullString
		var rating sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.Location.Lat, &p.Location.Lng, &types,
			&rating, &p.UserRatingCount, &p.PriceLevel, &p.WebsiteURI, &p.SearchSource); err != nil {
			return nil, fmt.Errorf("scanning place: %w", err)
		}
		if types.Valid && types.String != "" {
			_ = json.Unmarshal([]byte(types.String), &p.Types)
		}
		if p.Types == nil {
			p.Types = []string{}
		}
		if rating.Valid {
			v := rating.Float64
			p.Rating = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadOutcomes(ctx context.Context, runID string) ([]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spec_id, label, center_lat, center_lng, radius_m, raw_count, kept, error, duration_ms
		FROM outcomes WHERE run_id = ? ORDER BY spec_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var o model.Outcome
		var ms int64
		if err := rows.Scan(&o.SpecID, &o.Label, &o.Center.Lat, &o.Center.Lng, &o.Radius,
			&o.RawCount, &o.Kept, &o.Error, &ms); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

// Count returns the number of stored places across all runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM places").Scan(&count)
	return count, err
}

// SaveBlob stores value under key, replacing any previous value.
func (s *Store) SaveBlob(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}
	return nil
}

// LoadBlob returns the value under key or ErrNotFound.
func (s *Store) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	provider_id TEXT NOT NULL,
	station_id  TEXT NOT NULL,
	label       TEXT NOT NULL,
	river       TEXT,
	catchment   TEXT,
	region      TEXT,
	country     TEXT,
	town        TEXT,
	lat         REAL,
	lon         REAL,
	raw         TEXT,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (provider_id, station_id)
);

CREATE TABLE IF NOT EXISTS measures (
	provider_id TEXT NOT NULL,
	station_id  TEXT NOT NULL,
	measure_id  TEXT NOT NULL,
	parameter   TEXT,
	period      TEXT,
	unit        TEXT,
	value_type  TEXT,
	PRIMARY KEY (provider_id, station_id, measure_id)
);

CREATE TABLE IF NOT EXISTS readings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fetch_id    TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	station_id  TEXT NOT NULL,
	measure_id  TEXT NOT NULL,
	parameter   TEXT NOT NULL,
	date        TEXT NOT NULL,
	value       REAL NOT NULL,
	UNIQUE (provider_id, station_id, measure_id, date)
);

CREATE INDEX IF NOT EXISTS idx_readings_station ON readings(provider_id, station_id, parameter);

CREATE TABLE IF NOT EXISTS cache (
	provider_id TEXT NOT NULL,
	station_id  TEXT NOT NULL,
	last_fetch  INTEGER NOT NULL,
	PRIMARY KEY (provider_id, station_id)
);

CREATE INDEX IF NOT EXISTS idx_cache_last_fetch ON cache(last_fetch);
`

// SQLiteStore is the on-disk store. Writes go through a single connection,
// which makes every upsert atomic per station.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db, path); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Infow("store: sqlite ready", "path", path)
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func configure(db *sql.DB, path string) error {
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if path == ":memory:" {
		return db.Ping()
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal mode is %q, expected wal", mode)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ShouldFetch reports whether the station has no entry or an entry at least ttl old.
func (s *SQLiteStore) ShouldFetch(ctx context.Context, providerID, stationID string, now time.Time, ttl time.Duration) (bool, error) {
	e, err := s.LastFetch(ctx, providerID, stationID)
	if err == ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stale(e.LastFetch, now, ttl), nil
}

// LastFetch returns the cache entry of a station.
func (s *SQLiteStore) LastFetch(ctx context.Context, providerID, stationID string) (hydro.CacheEntry, error) {
	e := hydro.CacheEntry{ProviderID: providerID, StationID: stationID}
	err := s.db.QueryRowContext(ctx,
		`SELECT last_fetch FROM cache WHERE provider_id = ? AND station_id = ?`,
		providerID, stationID).Scan(&e.LastFetch)
	if err == sql.ErrNoRows {
		return hydro.CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return hydro.CacheEntry{}, &hydro.CacheError{Op: "lookup", StationID: stationID, Err: err}
	}
	return e, nil
}

// RecordFetch upserts the cache entry of a station.
func (s *SQLiteStore) RecordFetch(ctx context.Context, providerID, stationID string, now time.Time) error {
	if err := recordFetch(ctx, s.db, providerID, stationID, now); err != nil {
		return &hydro.CacheError{Op: "record", StationID: stationID, Err: err}
	}
	return nil
}

// Purge deletes the entries last fetched before cutoff.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE last_fetch < ?`, cutoff.Unix())
	if err != nil {
		return 0, &hydro.CacheError{Op: "purge", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &hydro.CacheError{Op: "purge", Err: err}
	}
	return int(n), nil
}

// Entries lists every cache entry ordered by station id, then provider.
func (s *SQLiteStore) Entries(ctx context.Context) ([]hydro.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, station_id, last_fetch FROM cache ORDER BY station_id, provider_id`)
	if err != nil {
		return nil, &hydro.CacheError{Op: "list", Err: err}
	}
	defer rows.Close()

	out := []hydro.CacheEntry{}
	for rows.Next() {
		var e hydro.CacheEntry
		if err := rows.Scan(&e.ProviderID, &e.StationID, &e.LastFetch); err != nil {
			return nil, &hydro.CacheError{Op: "list", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "list", Err: err}
	}
	return out, nil
}

// SaveStations upserts station metadata.
func (s *SQLiteStore) SaveStations(ctx context.Context, stations []hydro.Station) error {
	if len(stations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &hydro.CacheError{Op: "save stations", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stations (provider_id, station_id, label, river, catchment, region, country, town, lat, lon, raw, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, station_id) DO UPDATE SET
			label = excluded.label,
			river = excluded.river,
			catchment = excluded.catchment,
			region = excluded.region,
			country = excluded.country,
			town = excluded.town,
			lat = excluded.lat,
			lon = excluded.lon,
			raw = excluded.raw,
			updated_at = excluded.updated_at`)
	if err != nil {
		return &hydro.CacheError{Op: "save stations", Err: err}
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, st := range stations {
		raw, err := json.Marshal(st.Raw)
		if err != nil {
			return &hydro.CacheError{Op: "save stations", StationID: st.ID, Err: err}
		}
		if _, err := stmt.ExecContext(ctx,
			st.ProviderID, st.ID, st.Label, st.River, st.Catchment, st.Region, st.Country, st.Town,
			nullFloat(st.Latitude), nullFloat(st.Longitude), string(raw), now,
		); err != nil {
			return &hydro.CacheError{Op: "save stations", StationID: st.ID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &hydro.CacheError{Op: "save stations", Err: err}
	}
	return nil
}

// SaveFetch stores measures and readings of a station and records the fetch
// in one transaction. Readings are unique per station, measure and timestamp.
func (s *SQLiteStore) SaveFetch(ctx context.Context, fetchID, providerID, stationID string, measures []hydro.Measure, readings []hydro.Reading, now time.Time) error {
	wrap := func(err error) error {
		return &hydro.CacheError{Op: "save fetch", StationID: stationID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range measures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO measures (provider_id, station_id, measure_id, parameter, period, unit, value_type)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(provider_id, station_id, measure_id) DO UPDATE SET
				parameter = excluded.parameter,
				period = excluded.period,
				unit = excluded.unit,
				value_type = excluded.value_type`,
			providerID, stationID, m.ID, m.Parameter, m.Period, m.Unit, m.ValueType,
		); err != nil {
			return wrap(fmt.Errorf("measure %s: %w", m.ID, err))
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (fetch_id, provider_id, station_id, measure_id, parameter, date, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, station_id, measure_id, date) DO UPDATE SET
			fetch_id = excluded.fetch_id,
			parameter = excluded.parameter,
			value = excluded.value`)
	if err != nil {
		return wrap(err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, fetchID, providerID, stationID, r.MeasureID, r.Parameter, r.Timestamp, r.Value); err != nil {
			return wrap(fmt.Errorf("reading %s@%s: %w", r.MeasureID, r.Timestamp, err))
		}
	}

	if err := recordFetch(ctx, tx, providerID, stationID, now); err != nil {
		return wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(err)
	}
	return nil
}

// Measures returns the stored measures of a station ordered by id.
func (s *SQLiteStore) Measures(ctx context.Context, providerID, stationID string) ([]hydro.Measure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT measure_id, station_id, COALESCE(parameter, ''), COALESCE(period, ''), COALESCE(unit, ''), COALESCE(value_type, '')
		FROM measures WHERE provider_id = ? AND station_id = ? ORDER BY measure_id`, providerID, stationID)
	if err != nil {
		return nil, &hydro.CacheError{Op: "load measures", StationID: stationID, Err: err}
	}
	defer rows.Close()

	out := []hydro.Measure{}
	for rows.Next() {
		var m hydro.Measure
		if err := rows.Scan(&m.ID, &m.StationID, &m.Parameter, &m.Period, &m.Unit, &m.ValueType); err != nil {
			return nil, &hydro.CacheError{Op: "load measures", StationID: stationID, Err: err}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "load measures", StationID: stationID, Err: err}
	}
	return out, nil
}

// Readings returns the stored readings of a station ordered by measure and timestamp.
func (s *SQLiteStore) Readings(ctx context.Context, providerID, stationID string) ([]hydro.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT measure_id, station_id, value, date, parameter
		FROM readings WHERE provider_id = ? AND station_id = ? ORDER BY measure_id, date`, providerID, stationID)
	if err != nil {
		return nil, &hydro.CacheError{Op: "load readings", StationID: stationID, Err: err}
	}
	defer rows.Close()

	out := []hydro.Reading{}
	for rows.Next() {
		var r hydro.Reading
		if err := rows.Scan(&r.MeasureID, &r.StationID, &r.Value, &r.Timestamp, &r.Parameter); err != nil {
			return nil, &hydro.CacheError{Op: "load readings", StationID: stationID, Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "load readings", StationID: stationID, Err: err}
	}
	return out, nil
}

// Parameters returns per-parameter reading counts with the latest reading of
// each. Ties on the latest timestamp go to the lowest measure id.
func (s *SQLiteStore) Parameters(ctx context.Context, providerID, stationID string) ([]hydro.ParameterSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.parameter, g.n, r.measure_id, r.date, r.value
		FROM readings r
		JOIN (
			SELECT parameter, COUNT(*) AS n, MAX(date) AS latest
			FROM readings
			WHERE provider_id = ? AND station_id = ?
			GROUP BY parameter
		) g ON g.parameter = r.parameter AND g.latest = r.date
		WHERE r.provider_id = ? AND r.station_id = ?
		ORDER BY r.parameter, r.measure_id`,
		providerID, stationID, providerID, stationID)
	if err != nil {
		return nil, &hydro.CacheError{Op: "summarize", StationID: stationID, Err: err}
	}
	defer rows.Close()

	out := []hydro.ParameterSummary{}
	for rows.Next() {
		p := hydro.ParameterSummary{Latest: hydro.Reading{StationID: stationID}}
		if err := rows.Scan(&p.Parameter, &p.Readings, &p.Latest.MeasureID, &p.Latest.Timestamp, &p.Latest.Value); err != nil {
			return nil, &hydro.CacheError{Op: "summarize", StationID: stationID, Err: err}
		}
		if n := len(out); n > 0 && out[n-1].Parameter == p.Parameter {
			continue
		}
		p.Latest.Parameter = p.Parameter
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "summarize", StationID: stationID, Err: err}
	}
	return out, nil
}

// StationCount returns the number of stored stations of a provider.
func (s *SQLiteStore) StationCount(ctx context.Context, providerID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stations WHERE provider_id = ?`, providerID).Scan(&n); err != nil {
		return 0, &hydro.CacheError{Op: "count stations", Err: err}
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordFetch(ctx context.Context, db execer, providerID, stationID string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cache (provider_id, station_id, last_fetch) VALUES (?, ?, ?)
		ON CONFLICT(provider_id, station_id) DO UPDATE SET last_fetch = excluded.last_fetch`,
		providerID, stationID, now.Unix())
	return err
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// stale implements the ttl rule shared by every backend.
func stale(lastFetch int64, now time.Time, ttl time.Duration) bool {
	return now.Unix()-lastFetch >= int64(ttl/time.Second)
}

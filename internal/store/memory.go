package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

type stationKey struct {
	provider string
	station  string
}

type readingKey struct {
	measure   string
	timestamp string
}

// stationData holds the measures and readings of one station.
type stationData struct {
	measures map[string]hydro.Measure
	readings map[readingKey]hydro.Reading
}

// MemoryStore is a concurrency-safe in-memory implementation of hydro.Store.
// It loses everything on restart and is meant for tests and ephemeral runs.
type MemoryStore struct {
	mu sync.RWMutex

	// value: epoch seconds of the last fetch
	cache    map[stationKey]int64
	stations map[stationKey]hydro.Station
	data     map[stationKey]*stationData
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache:    make(map[stationKey]int64),
		stations: make(map[stationKey]hydro.Station),
		data:     make(map[stationKey]*stationData),
	}
}

// ShouldFetch reports whether the station has no entry or an entry at least ttl old.
func (s *MemoryStore) ShouldFetch(ctx context.Context, providerID, stationID string, now time.Time, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &hydro.CacheError{Op: "lookup", StationID: stationID, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	last, ok := s.cache[stationKey{provider: providerID, station: stationID}]
	if !ok {
		return true, nil
	}
	return stale(last, now, ttl), nil
}

// LastFetch returns the cache entry of a station.
func (s *MemoryStore) LastFetch(ctx context.Context, providerID, stationID string) (hydro.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return hydro.CacheEntry{}, &hydro.CacheError{Op: "lookup", StationID: stationID, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	last, ok := s.cache[stationKey{provider: providerID, station: stationID}]
	if !ok {
		return hydro.CacheEntry{}, ErrNotFound
	}
	return hydro.CacheEntry{ProviderID: providerID, StationID: stationID, LastFetch: last}, nil
}

// RecordFetch upserts the cache entry of a station.
func (s *MemoryStore) RecordFetch(ctx context.Context, providerID, stationID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return &hydro.CacheError{Op: "record", StationID: stationID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[stationKey{provider: providerID, station: stationID}] = now.Unix()
	return nil
}

// Purge deletes the entries last fetched before cutoff.
func (s *MemoryStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &hydro.CacheError{Op: "purge", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := cutoff.Unix()
	removed := 0
	for k, last := range s.cache {
		if last < limit {
			delete(s.cache, k)
			removed++
		}
	}
	return removed, nil
}

// Entries lists every cache entry ordered by station id, then provider.
func (s *MemoryStore) Entries(ctx context.Context) ([]hydro.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "list", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hydro.CacheEntry, 0, len(s.cache))
	for k, last := range s.cache {
		out = append(out, hydro.CacheEntry{ProviderID: k.provider, StationID: k.station, LastFetch: last})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out, nil
}

// SaveStations upserts station metadata.
func (s *MemoryStore) SaveStations(ctx context.Context, stations []hydro.Station) error {
	if err := ctx.Err(); err != nil {
		return &hydro.CacheError{Op: "save stations", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stations {
		s.stations[stationKey{provider: st.ProviderID, station: st.ID}] = st
	}
	return nil
}

// SaveFetch stores measures and readings of a station and records the fetch
// under one lock.
func (s *MemoryStore) SaveFetch(ctx context.Context, _ string, providerID, stationID string, measures []hydro.Measure, readings []hydro.Reading, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return &hydro.CacheError{Op: "save fetch", StationID: stationID, Err: err}
	}

	key := stationKey{provider: providerID, station: stationID}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.data[key]
	if !ok {
		d = &stationData{
			measures: make(map[string]hydro.Measure),
			readings: make(map[readingKey]hydro.Reading),
		}
		s.data[key] = d
	}
	for _, m := range measures {
		m.StationID = stationID
		d.measures[m.ID] = m
	}
	for _, r := range readings {
		r.StationID = stationID
		d.readings[readingKey{measure: r.MeasureID, timestamp: r.Timestamp}] = r
	}
	s.cache[key] = now.Unix()
	return nil
}

// Measures returns the stored measures of a station ordered by id.
func (s *MemoryStore) Measures(ctx context.Context, providerID, stationID string) ([]hydro.Measure, error) {
	if err := ctx.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "load measures", StationID: stationID, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []hydro.Measure{}
	if d, ok := s.data[stationKey{provider: providerID, station: stationID}]; ok {
		for _, m := range d.measures {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Readings returns the stored readings of a station ordered by measure and timestamp.
func (s *MemoryStore) Readings(ctx context.Context, providerID, stationID string) ([]hydro.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, &hydro.CacheError{Op: "load readings", StationID: stationID, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []hydro.Reading{}
	if d, ok := s.data[stationKey{provider: providerID, station: stationID}]; ok {
		for _, r := range d.readings {
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out, nil
}

// Parameters returns per-parameter reading counts with the latest reading of
// each. Ties on the latest timestamp go to the lowest measure id.
func (s *MemoryStore) Parameters(ctx context.Context, providerID, stationID string) ([]hydro.ParameterSummary, error) {
	readings, err := s.Readings(ctx, providerID, stationID)
	if err != nil {
		return nil, err
	}

	byParam := make(map[string]*hydro.ParameterSummary)
	for _, r := range readings {
		p, ok := byParam[r.Parameter]
		if !ok {
			byParam[r.Parameter] = &hydro.ParameterSummary{Parameter: r.Parameter, Readings: 1, Latest: r}
			continue
		}
		p.Readings++
		// readings are ordered by measure, so the first of equal timestamps wins
		if r.Timestamp > p.Latest.Timestamp {
			p.Latest = r
		}
	}

	out := make([]hydro.ParameterSummary, 0, len(byParam))
	for _, p := range byParam {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out, nil
}

// StationCount returns the number of stored stations of a provider.
func (s *MemoryStore) StationCount(ctx context.Context, providerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &hydro.CacheError{Op: "count stations", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k := range s.stations {
		if k.provider == providerID {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func sortReadings(rs []hydro.Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].MeasureID != rs[j].MeasureID {
			return rs[i].MeasureID < rs[j].MeasureID
		}
		return rs[i].Timestamp < rs[j].Timestamp
	})
}

package hydro

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dependencies bundles the collaborators of a Service.
type Dependencies struct {
	Registry Registry
	Fetcher  Fetcher
	Decoder  Decoder
	Mapper   Mapper
	Regions  RegionResolver
	Store    Store
	Clock    Clock // defaults to SystemClock
}

// Service orchestrates fetch → decode → map → store for one provider and
// station at a time, gated by the staleness cache.
type Service struct {
	registry Registry
	fetcher  Fetcher
	decoder  Decoder
	mapper   Mapper
	regions  RegionResolver
	store    Store
	clock    Clock
	ttl      time.Duration
	logger   *zap.SugaredLogger
}

// NewService creates a new Service. ttl is the staleness window of a station.
func NewService(deps Dependencies, ttl time.Duration, logger *zap.SugaredLogger) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		registry: deps.Registry,
		fetcher:  deps.Fetcher,
		decoder:  deps.Decoder,
		mapper:   deps.Mapper,
		regions:  deps.Regions,
		store:    deps.Store,
		clock:    clock,
		ttl:      ttl,
		logger:   logger,
	}
}

// Providers lists the registered providers.
func (s *Service) Providers() []ProviderDescriptor {
	return s.registry.List()
}

// TTL returns the staleness window.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// FetchAndNormalize is the single orchestration entry point. With an empty
// stationID it returns the provider's stations; otherwise it returns the
// station's measures and readings, from the store when the station is fresh.
func (s *Service) FetchAndNormalize(ctx context.Context, providerID, stationID string) (FetchResult, error) {
	desc, err := s.registry.Describe(providerID)
	if err != nil {
		return FetchResult{}, err
	}

	if stationID == "" {
		stations, err := s.fetchStations(ctx, desc)
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{ProviderID: desc.ID, Stations: stations}, nil
	}

	return s.fetchStation(ctx, desc, stationID)
}

// Stations fetches and normalizes the station listing of a provider.
func (s *Service) Stations(ctx context.Context, providerID string) ([]Station, error) {
	desc, err := s.registry.Describe(providerID)
	if err != nil {
		return nil, err
	}
	return s.fetchStations(ctx, desc)
}

// Regions returns the region vocabulary of a provider. When the station
// listing cannot be fetched the fallback list is returned.
func (s *Service) Regions(ctx context.Context, providerID string) ([]string, RegionSource, error) {
	desc, err := s.registry.Describe(providerID)
	if err != nil {
		return nil, "", err
	}

	stations, err := s.fetchStations(ctx, desc)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			return nil, "", err
		}
		s.logger.Warnw("service: station listing unavailable, using fallback regions",
			"provider", desc.ID, "error", err)
		stations = nil
	}

	regions, source := s.regions.RegionList(desc, stations)
	return regions, source, nil
}

// SearchStations filters a provider's stations by region and/or free text.
// Empty queries do not filter.
func (s *Service) SearchStations(ctx context.Context, providerID, region, text string) ([]Station, error) {
	stations, err := s.Stations(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if region != "" {
		stations = s.regions.FilterByRegion(stations, region)
	}
	if text != "" {
		stations = s.regions.FilterByText(stations, text)
	}
	return stations, nil
}

// IsFresh reports whether a station was fetched within the TTL.
func (s *Service) IsFresh(ctx context.Context, providerID, stationID string) (bool, error) {
	should, err := s.store.ShouldFetch(ctx, providerID, stationID, s.clock.Now(), s.ttl)
	if err != nil {
		return false, err
	}
	return !should, nil
}

// CacheEntry returns the cache entry of one station with its age, or
// ErrNotFound.
func (s *Service) CacheEntry(ctx context.Context, providerID, stationID string) (CacheAge, error) {
	e, err := s.store.LastFetch(ctx, providerID, stationID)
	if err != nil {
		return CacheAge{}, err
	}
	return s.age(e, s.clock.Now()), nil
}

// CacheSummary lists every cache entry with its age.
func (s *Service) CacheSummary(ctx context.Context) ([]CacheAge, error) {
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]CacheAge, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.age(e, now))
	}
	return out, nil
}

func (s *Service) age(e CacheEntry, now time.Time) CacheAge {
	last := time.Unix(e.LastFetch, 0).UTC()
	age := now.Sub(last)
	return CacheAge{
		ProviderID: e.ProviderID,
		StationID:  e.StationID,
		LastFetch:  last,
		Age:        age,
		Fresh:      age < s.ttl,
	}
}

// StationSummary reports what is stored for a station without calling the
// provider: its parameters with their latest reading, the reading total and
// the cache entry if there is one.
func (s *Service) StationSummary(ctx context.Context, providerID, stationID string) (StationSummary, error) {
	desc, err := s.registry.Describe(providerID)
	if err != nil {
		return StationSummary{}, err
	}
	summary := StationSummary{ProviderID: desc.ID, StationID: stationID}

	measures, err := s.store.Measures(ctx, desc.ID, stationID)
	if err != nil {
		return summary, err
	}
	summary.Measures = len(measures)

	if summary.Parameters, err = s.store.Parameters(ctx, desc.ID, stationID); err != nil {
		return summary, err
	}
	for _, p := range summary.Parameters {
		summary.Readings += p.Readings
	}

	entry, err := s.CacheEntry(ctx, desc.ID, stationID)
	switch {
	case err == nil:
		summary.Cache = &entry
	case !errors.Is(err, ErrNotFound):
		return summary, err
	}
	return summary, nil
}

// StoredStations returns how many stations of a provider are stored.
func (s *Service) StoredStations(ctx context.Context, providerID string) (int, error) {
	return s.store.StationCount(ctx, providerID)
}

// PurgeStale removes cache entries older than the TTL.
func (s *Service) PurgeStale(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.ttl)
	n, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("service: purged stale cache entries", "removed", n, "cutoff", cutoff)
	return n, nil
}

func (s *Service) fetchStations(ctx context.Context, desc ProviderDescriptor) ([]Station, error) {
	records, err := s.load(ctx, desc, ResourceStations, nil)
	if err != nil {
		return nil, err
	}

	stations := s.mapper.Stations(desc.RegionTag, records)
	for i := range stations {
		stations[i].ProviderID = desc.ID
	}
	s.logger.Debugw("service: mapped stations", "provider", desc.ID, "records", len(records), "stations", len(stations))

	if err := s.store.SaveStations(ctx, stations); err != nil {
		return nil, err
	}
	return stations, nil
}

func (s *Service) fetchStation(ctx context.Context, desc ProviderDescriptor, stationID string) (FetchResult, error) {
	result := FetchResult{ProviderID: desc.ID, StationID: stationID}

	should, err := s.store.ShouldFetch(ctx, desc.ID, stationID, s.clock.Now(), s.ttl)
	if err != nil {
		return result, err
	}
	if !should {
		s.logger.Debugw("service: station is fresh, serving from store", "provider", desc.ID, "station", stationID)
		if result.Measures, err = s.store.Measures(ctx, desc.ID, stationID); err != nil {
			return result, err
		}
		if result.Readings, err = s.store.Readings(ctx, desc.ID, stationID); err != nil {
			return result, err
		}
		result.Cached = true
		return result, nil
	}

	fetchID := uuid.NewString()
	log := s.logger.With("provider", desc.ID, "station", stationID, "fetch", fetchID)

	// A station that expired must not be answered from the memo.
	refetch := false
	if _, err := s.store.LastFetch(ctx, desc.ID, stationID); err == nil {
		refetch = true
	} else if !errors.Is(err, ErrNotFound) {
		return result, err
	}
	if refetch {
		log.Debugw("service: refetching stale station")
		s.invalidate(desc, ResourceMeasures, Params{"station": stationID})
	}

	measures, err := s.fetchMeasures(ctx, desc, stationID)
	if err != nil {
		return result, err
	}

	var readings []Reading
	for _, m := range measures {
		if refetch {
			s.invalidate(desc, ResourceReadings, readingParams(stationID, m))
		}
		rs, err := s.fetchReadings(ctx, desc, stationID, m)
		if err != nil {
			return result, err
		}
		readings = append(readings, rs...)
	}
	result.Measures = measures
	result.Readings = readings

	if len(readings) == 0 {
		log.Warnw("service: no readings mapped; cache left untouched", "measures", len(measures))
		return result, nil
	}

	// Nothing is committed for a caller that gave up mid-cycle.
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := s.store.SaveFetch(ctx, fetchID, desc.ID, stationID, measures, readings, s.clock.Now()); err != nil {
		return result, err
	}

	log.Infow("service: stored station data", "measures", len(measures), "readings", len(readings))
	return result, nil
}

func (s *Service) fetchMeasures(ctx context.Context, desc ProviderDescriptor, stationID string) ([]Measure, error) {
	if !desc.HasMeasures() {
		return []Measure{SyntheticMeasure(stationID)}, nil
	}

	records, err := s.load(ctx, desc, ResourceMeasures, Params{"station": stationID})
	if err != nil {
		return nil, err
	}

	measures := s.mapper.Measures(desc.RegionTag, records)
	for i := range measures {
		if measures[i].StationID == "" {
			measures[i].StationID = stationID
		}
	}
	return measures, nil
}

func (s *Service) fetchReadings(ctx context.Context, desc ProviderDescriptor, stationID string, m Measure) ([]Reading, error) {
	records, err := s.load(ctx, desc, ResourceReadings, readingParams(stationID, m))
	if err != nil {
		return nil, err
	}

	readings := s.mapper.Readings(desc.RegionTag, records, m)
	for i := range readings {
		readings[i].StationID = stationID
	}
	return readings, nil
}

func readingParams(stationID string, m Measure) Params {
	return Params{"station": stationID, "measure": m.ID}
}

func (s *Service) invalidate(desc ProviderDescriptor, resource Resource, params Params) {
	if inv, ok := s.fetcher.(Invalidator); ok {
		inv.Invalidate(desc.ID, resource, params)
	}
}

// load fetches and decodes one resource. Partial decodes are logged and
// their surviving records used.
func (s *Service) load(ctx context.Context, desc ProviderDescriptor, resource Resource, params Params) ([]RawRecord, error) {
	payload, err := s.fetcher.Fetch(ctx, desc, resource, params)
	if err != nil {
		return nil, err
	}

	records, err := s.decoder.Decode(payload.Body, desc.Format)
	if err != nil {
		if !IsPartialDecode(err) {
			return nil, fmt.Errorf("%s %s: %w", desc.ID, resource, err)
		}
		s.logger.Warnw("service: partial decode", "provider", desc.ID, "resource", resource, "error", err)
	}
	return records, nil
}

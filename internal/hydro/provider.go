package hydro

import (
	"context"
	"time"
)

// Params are the values substituted into a resource URL template.
type Params map[string]string

// Payload is a raw upstream response body.
type Payload struct {
	Body        []byte
	ContentType string
}

// Registry resolves provider ids to descriptors.
type Registry interface {
	Describe(id string) (ProviderDescriptor, error)
	List() []ProviderDescriptor
}

// Fetcher retrieves the raw bytes of a provider resource.
type Fetcher interface {
	Fetch(ctx context.Context, desc ProviderDescriptor, resource Resource, params Params) (Payload, error)
}

// Decoder turns raw bytes into records.
type Decoder interface {
	Decode(body []byte, format Format) ([]RawRecord, error)
}

// Mapper projects records into canonical entities for a region tag.
type Mapper interface {
	Stations(regionTag string, records []RawRecord) []Station
	Measures(regionTag string, records []RawRecord) []Measure
	// Readings labels records without a parameter of their own with the
	// measure's parameter.
	Readings(regionTag string, records []RawRecord, measure Measure) []Reading
}

// RegionSource tells whether a region list came from live metadata.
type RegionSource string

const (
	RegionSourceDynamic  RegionSource = "dynamic"
	RegionSourceFallback RegionSource = "fallback"
)

// RegionResolver answers region and free-text queries over stations.
type RegionResolver interface {
	RegionList(provider ProviderDescriptor, stations []Station) ([]string, RegionSource)
	FilterByRegion(stations []Station, query string) []Station
	FilterByText(stations []Station, query string) []Station
}

// StalenessCache is the per-station last-fetch store. Station ids are only
// unique within a provider, so every entry is keyed by both.
type StalenessCache interface {
	ShouldFetch(ctx context.Context, providerID, stationID string, now time.Time, ttl time.Duration) (bool, error)
	// LastFetch returns the entry of the station or ErrNotFound.
	LastFetch(ctx context.Context, providerID, stationID string) (CacheEntry, error)
	RecordFetch(ctx context.Context, providerID, stationID string, now time.Time) error
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Entries(ctx context.Context) ([]CacheEntry, error)
}

// Store persists normalized entities and the staleness cache.
type Store interface {
	StalenessCache

	SaveStations(ctx context.Context, stations []Station) error
	// SaveFetch stores the measures and readings of one station and records
	// the fetch in a single transaction.
	SaveFetch(ctx context.Context, fetchID, providerID, stationID string, measures []Measure, readings []Reading, now time.Time) error
	Measures(ctx context.Context, providerID, stationID string) ([]Measure, error)
	Readings(ctx context.Context, providerID, stationID string) ([]Reading, error)
	// Parameters returns the stored reading count and latest reading of every
	// parameter of a station, ordered by parameter.
	Parameters(ctx context.Context, providerID, stationID string) ([]ParameterSummary, error)
	StationCount(ctx context.Context, providerID string) (int, error)
}

// Invalidator drops memoized upstream responses. The transport client
// implements it.
type Invalidator interface {
	Invalidate(providerID string, resource Resource, params Params)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

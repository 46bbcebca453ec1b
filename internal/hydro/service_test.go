package hydro_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
	"github.com/i474232898/hydro-aggregation/internal/hydro/decode"
	"github.com/i474232898/hydro-aggregation/internal/hydro/mapping"
	"github.com/i474232898/hydro-aggregation/internal/hydro/region"
	"github.com/i474232898/hydro-aggregation/internal/store"
)

type fakeRegistry map[string]hydro.ProviderDescriptor

func (r fakeRegistry) Describe(id string) (hydro.ProviderDescriptor, error) {
	d, ok := r[id]
	if !ok {
		return hydro.ProviderDescriptor{}, hydro.ErrUnknownProvider
	}
	return d, nil
}

func (r fakeRegistry) List() []hydro.ProviderDescriptor {
	out := make([]hydro.ProviderDescriptor, 0, len(r))
	for _, d := range r {
		out = append(out, d)
	}
	return out
}

// fakeFetcher answers by "resource station measure" key.
type fakeFetcher struct {
	mu    sync.Mutex
	body  map[string]string
	calls map[string]int

	onFetch func()
}

func newFakeFetcher(body map[string]string) *fakeFetcher {
	return &fakeFetcher{body: body, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, desc hydro.ProviderDescriptor, resource hydro.Resource, params hydro.Params) (hydro.Payload, error) {
	key := string(resource) + " " + params["station"] + " " + params["measure"]

	if f.onFetch != nil {
		f.onFetch()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++

	b, ok := f.body[key]
	if !ok {
		return hydro.Payload{}, &hydro.TransportError{Provider: desc.ID, Resource: resource, Status: 503}
	}
	return hydro.Payload{Body: []byte(b)}, nil
}

func (f *fakeFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// invalidatingFetcher also drops memoized responses, recorded as
// "provider resource station measure".
type invalidatingFetcher struct {
	*fakeFetcher
	dropped []string
}

func (f *invalidatingFetcher) Invalidate(providerID string, resource hydro.Resource, params hydro.Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, providerID+" "+string(resource)+" "+params["station"]+" "+params["measure"])
}

func (f *invalidatingFetcher) invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dropped...)
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

var simple = hydro.ProviderDescriptor{
	ID:        "simple",
	Name:      "Simple",
	Format:    hydro.FormatJSON,
	RegionTag: "generic",
	URLs: hydro.ResourceURLs{
		Stations: "http://upstream/stations",
		Readings: "http://upstream/readings/{station}",
	},
	FallbackRegions: []string{"North", "South"},
}

var measured = hydro.ProviderDescriptor{
	ID:        "measured",
	Name:      "Measured",
	Format:    hydro.FormatJSON,
	RegionTag: "generic",
	URLs: hydro.ResourceURLs{
		Stations: "http://upstream/stations",
		Measures: "http://upstream/stations/{station}/measures",
		Readings: "http://upstream/measures/{measure}/readings",
	},
}

const ttl = time.Hour

func newService(t *testing.T, fetcher hydro.Fetcher, clock *fixedClock) (*hydro.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := hydro.NewService(hydro.Dependencies{
		Registry: fakeRegistry{simple.ID: simple, measured.ID: measured},
		Fetcher:  fetcher,
		Decoder:  decode.Decoder{},
		Mapper:   mapping.NewMapper(),
		Regions:  region.NewResolver(region.DefaultThreshold),
		Store:    st,
		Clock:    clock,
	}, ttl, nil)
	return svc, st
}

func TestFetchAndNormalizeServesFreshStationsFromStore(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"readings S1 S1": `[{"value":2.5,"date":"2024-01-01T00:00:00Z"},{"value":2.7,"date":"2024-01-01T00:15:00Z"}]`,
	})
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc, _ := newService(t, f, clock)
	ctx := context.Background()

	res, err := svc.FetchAndNormalize(ctx, "simple", "S1")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	require.Len(t, res.Measures, 1)
	assert.Equal(t, hydro.SyntheticMeasure("S1"), res.Measures[0])
	require.Len(t, res.Readings, 2)
	assert.Equal(t, "S1", res.Readings[0].StationID)
	assert.Equal(t, "water_level", res.Readings[0].Parameter)

	clock.now = clock.now.Add(30 * time.Minute)
	res, err = svc.FetchAndNormalize(ctx, "simple", "S1")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Len(t, res.Readings, 2)
	assert.Equal(t, 1, f.count("readings S1 S1"))

	clock.now = clock.now.Add(ttl)
	fresh, err := svc.IsFresh(ctx, "simple", "S1")
	require.NoError(t, err)
	assert.False(t, fresh)

	res, err = svc.FetchAndNormalize(ctx, "simple", "S1")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, f.count("readings S1 S1"))
}

func TestFetchAndNormalizeWithMeasures(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"measures S9 ":   `{"items":[{"measure":"M1","parameter":"flow","unit":"m3/s"},{"measure":"M2","parameter":"level"}]}`,
		"readings S9 M1": `[{"value":10,"date":"2024-01-01T00:00:00Z"}]`,
		"readings S9 M2": `[{"value":0.4,"date":"2024-01-01T00:00:00Z"}]`,
	})
	svc, st := newService(t, f, &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()})

	res, err := svc.FetchAndNormalize(context.Background(), "measured", "S9")
	require.NoError(t, err)
	require.Len(t, res.Measures, 2)
	assert.Equal(t, "S9", res.Measures[0].StationID)
	require.Len(t, res.Readings, 2)
	assert.Equal(t, "M1", res.Readings[0].MeasureID)
	assert.Equal(t, "flow", res.Readings[0].Parameter)
	assert.Equal(t, "M2", res.Readings[1].MeasureID)
	assert.Equal(t, "level", res.Readings[1].Parameter)

	stored, err := st.Readings(context.Background(), "measured", "S9")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestNoReadingsLeavesCacheUntouched(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"readings EMPTY EMPTY": `[{"value":"n/a","date":"2024-01-01T00:00:00Z"}]`,
	})
	svc, st := newService(t, f, &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()})

	res, err := svc.FetchAndNormalize(context.Background(), "simple", "EMPTY")
	require.NoError(t, err)
	assert.Empty(t, res.Readings)

	_, err = st.LastFetch(context.Background(), "simple", "EMPTY")
	assert.ErrorIs(t, err, hydro.ErrNotFound)
}

func TestTransportErrorDoesNotTouchOtherStations(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"readings S1 S1": `[{"value":1,"date":"2024-01-01T00:00:00Z"}]`,
	})
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc, st := newService(t, f, clock)
	ctx := context.Background()

	_, err := svc.FetchAndNormalize(ctx, "simple", "S1")
	require.NoError(t, err)
	before, err := st.LastFetch(ctx, "simple", "S1")
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute)
	_, err = svc.FetchAndNormalize(ctx, "simple", "DOWN")
	var te *hydro.TransportError
	require.ErrorAs(t, err, &te)

	after, err := st.LastFetch(ctx, "simple", "S1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = st.LastFetch(ctx, "simple", "DOWN")
	assert.ErrorIs(t, err, hydro.ErrNotFound)
}

func TestCancelledContextWritesNothing(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"readings S1 S1": `[{"value":1,"date":"2024-01-01T00:00:00Z"}]`,
	})
	svc, st := newService(t, f, &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()})

	// The caller goes away after the payload arrived but before it is stored.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onFetch = cancel

	_, err := svc.FetchAndNormalize(ctx, "simple", "S1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, f.count("readings S1 S1"))

	bg := context.Background()
	entries, err := st.Entries(bg)
	require.NoError(t, err)
	assert.Empty(t, entries)
	readings, err := st.Readings(bg, "simple", "S1")
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestStationsAreCachedPerProvider(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"readings S1 S1": `[{"value":1,"date":"2024-01-01T00:00:00Z"}]`,
		"measures S1 ":   `[{"measure":"M7","parameter":"flow"}]`,
		"readings S1 M7": `[{"value":9,"date":"2024-01-01T00:00:00Z"}]`,
	})
	svc, st := newService(t, f, &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()})
	ctx := context.Background()

	_, err := svc.FetchAndNormalize(ctx, "simple", "S1")
	require.NoError(t, err)

	fresh, err := svc.IsFresh(ctx, "measured", "S1")
	require.NoError(t, err)
	assert.False(t, fresh)

	res, err := svc.FetchAndNormalize(ctx, "measured", "S1")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	require.Len(t, res.Readings, 1)
	assert.Equal(t, "M7", res.Readings[0].MeasureID)
	assert.Equal(t, 1, f.count("measures S1 "))

	simpleReadings, err := st.Readings(ctx, "simple", "S1")
	require.NoError(t, err)
	require.Len(t, simpleReadings, 1)
	assert.Equal(t, "S1", simpleReadings[0].MeasureID)

	summary, err := svc.CacheSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "measured", summary[0].ProviderID)
	assert.Equal(t, "simple", summary[1].ProviderID)
}

func TestStaleRefetchInvalidatesMemo(t *testing.T) {
	f := &invalidatingFetcher{fakeFetcher: newFakeFetcher(map[string]string{
		"measures S9 ":   `[{"measure":"M1","parameter":"flow"}]`,
		"readings S9 M1": `[{"value":10,"date":"2024-01-01T00:00:00Z"}]`,
	})}
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc, _ := newService(t, f, clock)
	ctx := context.Background()

	_, err := svc.FetchAndNormalize(ctx, "measured", "S9")
	require.NoError(t, err)
	assert.Empty(t, f.invalidated())

	clock.now = clock.now.Add(ttl)
	res, err := svc.FetchAndNormalize(ctx, "measured", "S9")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, []string{
		"measured measures S9 ",
		"measured readings S9 M1",
	}, f.invalidated())
	assert.Equal(t, 2, f.count("readings S9 M1"))
}

func TestStationSummary(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"measures S9 ": `{"items":[{"measure":"M1","parameter":"flow"},{"measure":"M2","parameter":"level"}]}`,
		"readings S9 M1": `[
			{"value":10,"date":"2024-01-01T00:00:00Z"},
			{"value":12,"date":"2024-01-01T00:15:00Z"}
		]`,
		"readings S9 M2": `[{"value":0.4,"date":"2024-01-01T00:00:00Z"}]`,
	})
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc, _ := newService(t, f, clock)
	ctx := context.Background()

	empty, err := svc.StationSummary(ctx, "measured", "S9")
	require.NoError(t, err)
	assert.Zero(t, empty.Readings)
	assert.Empty(t, empty.Parameters)
	assert.Nil(t, empty.Cache)

	_, err = svc.FetchAndNormalize(ctx, "measured", "S9")
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Minute)

	summary, err := svc.StationSummary(ctx, "measured", "S9")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Measures)
	assert.Equal(t, 3, summary.Readings)
	require.Len(t, summary.Parameters, 2)
	assert.Equal(t, "flow", summary.Parameters[0].Parameter)
	assert.Equal(t, 2, summary.Parameters[0].Readings)
	assert.Equal(t, 12.0, summary.Parameters[0].Latest.Value)
	assert.Equal(t, "level", summary.Parameters[1].Parameter)
	assert.Equal(t, 0.4, summary.Parameters[1].Latest.Value)
	require.NotNil(t, summary.Cache)
	assert.Equal(t, time.Minute, summary.Cache.Age)
	assert.True(t, summary.Cache.Fresh)

	other, err := svc.StationSummary(ctx, "simple", "S9")
	require.NoError(t, err)
	assert.Zero(t, other.Readings)

	_, err = svc.StationSummary(ctx, "nope", "S9")
	assert.ErrorIs(t, err, hydro.ErrUnknownProvider)
}

func TestUnknownProvider(t *testing.T) {
	svc, _ := newService(t, newFakeFetcher(nil), &fixedClock{})

	_, err := svc.FetchAndNormalize(context.Background(), "nope", "S1")
	assert.ErrorIs(t, err, hydro.ErrUnknownProvider)
	_, _, err = svc.Regions(context.Background(), "nope")
	assert.ErrorIs(t, err, hydro.ErrUnknownProvider)
}

func TestStationsAndSearch(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"stations  ": `[
			{"station":"3400TH","name":"Kingston","river":"River Thames"},
			{"station":"2093","name":"Bewdley","river":"Severn"},
			{"station":"3400TH","name":"Kingston duplicate"}
		]`,
	})
	svc, st := newService(t, f, &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()})
	ctx := context.Background()

	res, err := svc.FetchAndNormalize(ctx, "simple", "")
	require.NoError(t, err)
	require.Len(t, res.Stations, 2)
	assert.Equal(t, "simple", res.Stations[0].ProviderID)
	assert.Equal(t, "Kingston", res.Stations[0].Label)

	n, err := svc.StoredStations(ctx, "simple")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = st.StationCount(ctx, "measured")
	require.NoError(t, err)
	assert.Zero(t, n)

	found, err := svc.SearchStations(ctx, "simple", "thames", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "3400TH", found[0].ID)

	all, err := svc.SearchStations(ctx, "simple", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegionsFallBackWhenListingUnavailable(t *testing.T) {
	svc, _ := newService(t, newFakeFetcher(nil), &fixedClock{})

	regions, source, err := svc.Regions(context.Background(), "simple")
	require.NoError(t, err)
	assert.Equal(t, hydro.RegionSourceFallback, source)
	assert.Equal(t, []string{"North", "South"}, regions)
}

func TestCacheInspectionAndPurge(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc, st := newService(t, newFakeFetcher(nil), clock)
	ctx := context.Background()

	require.NoError(t, st.RecordFetch(ctx, "simple", "OLD", clock.now.Add(-2*ttl)))
	require.NoError(t, st.RecordFetch(ctx, "simple", "NEW", clock.now.Add(-time.Minute)))

	summary, err := svc.CacheSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "NEW", summary[0].StationID)
	assert.Equal(t, "simple", summary[0].ProviderID)
	assert.True(t, summary[0].Fresh)
	assert.Equal(t, time.Minute, summary[0].Age)
	assert.False(t, summary[1].Fresh)

	entry, err := svc.CacheEntry(ctx, "simple", "OLD")
	require.NoError(t, err)
	assert.Equal(t, 2*ttl, entry.Age)

	_, err = svc.CacheEntry(ctx, "simple", "MISSING")
	assert.ErrorIs(t, err, hydro.ErrNotFound)

	n, err := svc.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.CacheEntry(ctx, "simple", "OLD")
	assert.ErrorIs(t, err, hydro.ErrNotFound)
}

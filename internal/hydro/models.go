package hydro

import (
	"bytes"
	"encoding/json"
	"time"
)

// Format is the wire format a provider serves its resources in.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Resource names one of the three fetchable resources of a provider.
type Resource string

const (
	ResourceStations Resource = "stations"
	ResourceMeasures Resource = "measures"
	ResourceReadings Resource = "readings"
)

// ResourceURLs holds the per-resource URL templates of a provider.
// Templates may reference {station} and {measure}.
type ResourceURLs struct {
	Stations string `json:"stations" yaml:"stations" validate:"required"`
	Measures string `json:"measures,omitempty" yaml:"measures"`
	Readings string `json:"readings" yaml:"readings" validate:"required"`
}

// Template returns the URL template for a resource.
func (u ResourceURLs) Template(r Resource) string {
	switch r {
	case ResourceStations:
		return u.Stations
	case ResourceMeasures:
		return u.Measures
	case ResourceReadings:
		return u.Readings
	default:
		return ""
	}
}

// ProviderDescriptor describes one external data source.
// Descriptors are immutable once registered.
type ProviderDescriptor struct {
	ID              string        `json:"id" yaml:"id" validate:"required,providerid"`
	Name            string        `json:"name" yaml:"name" validate:"required"`
	Format          Format        `json:"format" yaml:"format" validate:"required,oneof=json csv"`
	URLs            ResourceURLs  `json:"urls" yaml:"urls"`
	RegionTag       string        `json:"regionTag" yaml:"region_tag" validate:"required"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
	FallbackRegions []string      `json:"fallbackRegions,omitempty" yaml:"fallback_regions"`
}

// HasMeasures reports whether the provider exposes measures as their own resource.
func (p ProviderDescriptor) HasMeasures() bool {
	return p.URLs.Measures != ""
}

// RawRecord is an ordered mapping of keys to decoded values. It carries no
// canonical meaning; the mapping package projects it into entities.
type RawRecord struct {
	keys   []string
	values map[string]any
}

// NewRawRecord returns an empty record with room for n keys.
func NewRawRecord(n int) RawRecord {
	return RawRecord{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Set stores v under key. A repeated key keeps its first position.
func (r *RawRecord) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r RawRecord) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in payload order.
func (r RawRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys.
func (r RawRecord) Len() int {
	return len(r.keys)
}

// MarshalJSON writes the record as a JSON object in key order.
func (r RawRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Station is the canonical station entity.
// Latitude and Longitude are nil when the provider does not supply them.
type Station struct {
	ID         string    `json:"stationId"`
	ProviderID string    `json:"provider"`
	Label      string    `json:"label"`
	River      string    `json:"river,omitempty"`
	Catchment  string    `json:"catchment,omitempty"`
	Region     string    `json:"region,omitempty"`
	Country    string    `json:"country,omitempty"`
	Town       string    `json:"town,omitempty"`
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	Raw        RawRecord `json:"raw"`
}

// Measure is a measured parameter series at a station.
type Measure struct {
	ID        string `json:"measureId"`
	StationID string `json:"stationId"`
	Parameter string `json:"parameter,omitempty"`
	Period    string `json:"period,omitempty"`
	Unit      string `json:"unit,omitempty"`
	ValueType string `json:"valueType,omitempty"`
}

// SyntheticMeasure builds the one-to-one measure used for providers that have
// no measure concept of their own.
func SyntheticMeasure(stationID string) Measure {
	return Measure{ID: stationID, StationID: stationID}
}

// Reading is a single value of a measure. Timestamp is the provider's ISO-8601 text.
type Reading struct {
	MeasureID string  `json:"measureId"`
	StationID string  `json:"stationId"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
	Parameter string  `json:"parameter"`
}

// CacheEntry records when a station was last fetched successfully.
type CacheEntry struct {
	ProviderID string `json:"provider"`
	StationID  string `json:"stationId"`
	LastFetch  int64  `json:"lastFetch"` // epoch seconds
}

// CacheAge is a cache entry annotated for inspection UIs.
type CacheAge struct {
	ProviderID string        `json:"provider"`
	StationID  string        `json:"stationId"`
	LastFetch  time.Time     `json:"lastFetch"`
	Age        time.Duration `json:"age"`
	Fresh      bool          `json:"fresh"`
}

// ParameterSummary describes the stored readings of one parameter.
type ParameterSummary struct {
	Parameter string  `json:"parameter"`
	Readings  int     `json:"readings"`
	Latest    Reading `json:"latest"`
}

// StationSummary is what is stored for a station: its parameters with their
// latest reading, the reading total and the cache state.
type StationSummary struct {
	ProviderID string             `json:"provider"`
	StationID  string             `json:"stationId"`
	Measures   int                `json:"measures"`
	Readings   int                `json:"readings"`
	Parameters []ParameterSummary `json:"parameters"`
	Cache      *CacheAge          `json:"cache,omitempty"`
}

// FetchResult is what FetchAndNormalize returns. A provider-wide call fills
// Stations; a per-station call fills Measures and Readings.
type FetchResult struct {
	ProviderID string    `json:"provider"`
	StationID  string    `json:"stationId,omitempty"`
	Stations   []Station `json:"stations,omitempty"`
	Measures   []Measure `json:"measures,omitempty"`
	Readings   []Reading `json:"readings,omitempty"`
	// Cached is true when the result came from the store without an upstream call.
	Cached bool `json:"cached"`
}

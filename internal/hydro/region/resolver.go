// Package region builds region vocabularies from station metadata and
// filters stations by fuzzy region or free-text queries.
package region

import (
	"github.com/i474232898/hydro-aggregation/internal/common"
	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

const (
	// DefaultThreshold is the minimum Score for a field to match a query.
	DefaultThreshold = 60.0
	// MinDynamicRegions is the number of distinct metadata values below which
	// the fallback list is used instead.
	MinDynamicRegions = 3
)

// Resolver implements hydro.RegionResolver.
type Resolver struct {
	Threshold float64
	scorer    func(a, b string) float64
}

// NewResolver returns a resolver matching at threshold. A negative
// threshold selects DefaultThreshold; zero matches every non-empty field.
func NewResolver(threshold float64) *Resolver {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{Threshold: threshold, scorer: Score}
}

func regionFields(s hydro.Station) []string {
	return []string{s.Region, s.Catchment, s.River, s.Country}
}

func textFields(s hydro.Station) []string {
	return []string{s.Label, s.ID, s.Town, s.River}
}

// RegionList returns the distinct region values of stations when there are
// enough of them, and the provider's fallback list otherwise. A descriptor
// carrying its own fallback regions overrides the builtin list.
func (r *Resolver) RegionList(provider hydro.ProviderDescriptor, stations []hydro.Station) ([]string, hydro.RegionSource) {
	var values []string
	for _, s := range stations {
		values = append(values, regionFields(s)...)
	}

	dynamic := common.UniqueSorted(values, 1)
	if len(dynamic) >= MinDynamicRegions {
		return dynamic, hydro.RegionSourceDynamic
	}

	if len(provider.FallbackRegions) > 0 {
		out := make([]string, len(provider.FallbackRegions))
		copy(out, provider.FallbackRegions)
		return out, hydro.RegionSourceFallback
	}
	return Fallback(provider.ID), hydro.RegionSourceFallback
}

// FilterByRegion keeps the stations whose region, catchment, river or
// country matches query.
func (r *Resolver) FilterByRegion(stations []hydro.Station, query string) []hydro.Station {
	return r.filter(stations, query, regionFields)
}

// FilterByText keeps the stations whose label, id, town or river matches
// query.
func (r *Resolver) FilterByText(stations []hydro.Station, query string) []hydro.Station {
	return r.filter(stations, query, textFields)
}

func (r *Resolver) filter(stations []hydro.Station, query string, fields func(hydro.Station) []string) []hydro.Station {
	out := make([]hydro.Station, 0)
	for _, s := range stations {
		if r.matches(query, fields(s)) {
			out = append(out, s)
		}
	}
	return out
}

// matches stops at the first qualifying field.
func (r *Resolver) matches(query string, fields []string) bool {
	score := r.scorer
	if score == nil {
		score = Score
	}
	for _, f := range fields {
		if f == "" {
			continue
		}
		if score(query, f) >= r.Threshold {
			return true
		}
	}
	return false
}

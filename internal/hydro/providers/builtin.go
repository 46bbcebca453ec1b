package providers

import "github.com/i474232898/hydro-aggregation/internal/hydro"

// Region tags select the mapping table of a provider.
const (
	TagAustralia     = "aus"
	TagNewZealand    = "nz"
	TagCanada        = "ca"
	TagUnitedKingdom = "uk"
	TagEurope        = "eu"
	TagGeneric       = "generic"
)

// Builtin returns the providers known at startup.
func Builtin() []hydro.ProviderDescriptor {
	return []hydro.ProviderDescriptor{
		{
			ID:        "australia",
			Name:      "Australia – Water Data Service",
			Format:    hydro.FormatJSON,
			RegionTag: TagAustralia,
			URLs: hydro.ResourceURLs{
				Stations: "https://bom.gov.au/waterdata/services/stations",
				Readings: "https://bom.gov.au/waterdata/services/readings/{station}.json",
			},
		},
		{
			ID:        "new_zealand",
			Name:      "New Zealand – NIWA Hydrology",
			Format:    hydro.FormatJSON,
			RegionTag: TagNewZealand,
			URLs: hydro.ResourceURLs{
				Stations: "https://api.niwa.co.nz/rainfall/stations",
				Readings: "https://api.niwa.co.nz/rainfall/data/{station}",
			},
		},
		{
			ID:        "canada",
			Name:      "Canada – Hydrometric Data",
			Format:    hydro.FormatCSV,
			RegionTag: TagCanada,
			URLs: hydro.ResourceURLs{
				Stations: "https://dd.weather.gc.ca/hydrometric/doc/hydrometric_StationList.csv",
				Readings: "https://dd.weather.gc.ca/hydrometric/csv/daily/{station}.csv",
			},
		},
		{
			ID:        "united_kingdom",
			Name:      "United Kingdom – Environment Agency Hydrology",
			Format:    hydro.FormatJSON,
			RegionTag: TagUnitedKingdom,
			URLs: hydro.ResourceURLs{
				Stations: "https://environment.data.gov.uk/hydrology/id/stations?_limit=2000",
				Measures: "https://environment.data.gov.uk/hydrology/id/measures?station={station}",
				Readings: "https://environment.data.gov.uk/hydrology/id/measures/{measure}/readings?_limit=200&_sorted",
			},
		},
		{
			ID:        "european_union",
			Name:      "European Union – Water Quality",
			Format:    hydro.FormatJSON,
			RegionTag: TagEurope,
			URLs: hydro.ResourceURLs{
				Stations: "https://water.europa.eu/api/stations",
				Readings: "https://water.europa.eu/api/readings/{station}",
			},
		},
	}
}

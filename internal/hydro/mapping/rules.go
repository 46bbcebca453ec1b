package mapping

// Candidates is an ordered list of record keys for one attribute. The first
// key present with a non-empty value wins.
type Candidates []string

// Rules holds the candidate lists of every canonical attribute.
type Rules struct {
	StationID Candidates
	Label     Candidates
	River     Candidates
	Catchment Candidates
	Region    Candidates
	Country   Candidates
	Town      Candidates
	Latitude  Candidates
	Longitude Candidates

	MeasureID      Candidates
	MeasureStation Candidates
	Parameter      Candidates
	Period         Candidates
	Unit           Candidates
	ValueType      Candidates

	Value            Candidates
	Timestamp        Candidates
	ReadingParameter Candidates
	// DefaultParameter labels readings whose record names no parameter.
	DefaultParameter string
}

// DefaultRules is the union of the key names seen across providers.
func DefaultRules() Rules {
	return Rules{
		StationID: Candidates{"station", "stationId", "id", "site", "code", "notation", "stationReference", "@id"},
		Label:     Candidates{"name", "label", "stationName", "siteName"},
		River:     Candidates{"riverName", "river"},
		Catchment: Candidates{"catchment", "catchmentName"},
		Region:    Candidates{"region", "state", "province"},
		Country:   Candidates{"country", "Country", "countryCode"},
		Town:      Candidates{"town", "locality", "city", "place"},
		Latitude:  Candidates{"lat", "latitude", "y"},
		Longitude: Candidates{"lon", "lng", "long", "longitude", "x"},

		MeasureID:      Candidates{"measure", "measure_uri", "measureId", "notation", "@id", "id"},
		MeasureStation: Candidates{"station", "stationId", "station_uri", "stationReference"},
		Parameter:      Candidates{"parameterName", "parameter", "observedProperty"},
		Period:         Candidates{"period"},
		Unit:           Candidates{"unitName", "unit", "units"},
		ValueType:      Candidates{"valueType"},

		Value:            Candidates{"value", "reading", "level", "flow", "discharge"},
		Timestamp:        Candidates{"date", "datetime", "dateTime", "time", "timestamp"},
		ReadingParameter: Candidates{"parameter", "type"},
		DefaultParameter: "water_level",
	}
}

// Merge puts the candidates of specific ahead of those of base, dropping
// duplicates.
func Merge(specific, base Rules) Rules {
	out := Rules{
		StationID: union(specific.StationID, base.StationID),
		Label:     union(specific.Label, base.Label),
		River:     union(specific.River, base.River),
		Catchment: union(specific.Catchment, base.Catchment),
		Region:    union(specific.Region, base.Region),
		Country:   union(specific.Country, base.Country),
		Town:      union(specific.Town, base.Town),
		Latitude:  union(specific.Latitude, base.Latitude),
		Longitude: union(specific.Longitude, base.Longitude),

		MeasureID:      union(specific.MeasureID, base.MeasureID),
		MeasureStation: union(specific.MeasureStation, base.MeasureStation),
		Parameter:      union(specific.Parameter, base.Parameter),
		Period:         union(specific.Period, base.Period),
		Unit:           union(specific.Unit, base.Unit),
		ValueType:      union(specific.ValueType, base.ValueType),

		Value:            union(specific.Value, base.Value),
		Timestamp:        union(specific.Timestamp, base.Timestamp),
		ReadingParameter: union(specific.ReadingParameter, base.ReadingParameter),
		DefaultParameter: base.DefaultParameter,
	}
	if specific.DefaultParameter != "" {
		out.DefaultParameter = specific.DefaultParameter
	}
	return out
}

func union(a, b Candidates) Candidates {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make(Candidates, 0, len(a)+len(b))
	for _, list := range []Candidates{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// providerRules are the provider-specific keys, indexed by region tag.
// Adding a provider means adding an entry here.
var providerRules = map[string]Rules{
	"aus": {
		StationID: Candidates{"station_no"},
		Label:     Candidates{"station_name"},
		Catchment: Candidates{"catchment_name"},
		Latitude:  Candidates{"station_latitude"},
		Longitude: Candidates{"station_longitude"},
		Value:     Candidates{"Value"},
		Timestamp: Candidates{"Timestamp"},
	},
	"nz": {
		StationID:        Candidates{"agent"},
		Value:            Candidates{"amount", "rainfall"},
		DefaultParameter: "rainfall",
	},
	"ca": {
		StationID: Candidates{"ID"},
		Label:     Candidates{"Name / Nom"},
		Region:    Candidates{"Prov/Terr"},
		Latitude:  Candidates{"Latitude"},
		Longitude: Candidates{"Longitude"},
		Value:     Candidates{"Water Level / Niveau d'eau (m)", "Discharge / Débit (cms)"},
		Timestamp: Candidates{"Date"},
	},
	"uk": {
		StationID: Candidates{"notation", "stationReference", "@id"},
		Label:     Candidates{"label"},
		Latitude:  Candidates{"lat"},
		Longitude: Candidates{"long"},
		MeasureID: Candidates{"notation", "@id"},
		Unit:      Candidates{"unitName"},
		Timestamp: Candidates{"dateTime", "date"},
	},
	"eu": {
		StationID:        Candidates{"monitoringSiteIdentifier"},
		Label:            Candidates{"monitoringSiteName"},
		River:            Candidates{"waterBodyName"},
		Country:          Candidates{"countryCode"},
		Value:            Candidates{"resultMeanValue"},
		Timestamp:        Candidates{"phenomenonTimeSamplingDate"},
		ReadingParameter: Candidates{"observedPropertyDeterminandLabel"},
		DefaultParameter: "water_quality",
	},
}

// BuiltinTables returns the merged rules of every known region tag.
func BuiltinTables() map[string]Rules {
	base := DefaultRules()
	out := make(map[string]Rules, len(providerRules))
	for tag, specific := range providerRules {
		out[tag] = Merge(specific, base)
	}
	return out
}

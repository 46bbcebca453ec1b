// Package mapping projects decoded provider records into canonical entities
// using ordered candidate-key tables, one per region tag.
package mapping

import (
	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// Mapper implements hydro.Mapper. It holds no mutable state after
// construction and is safe for concurrent use.
type Mapper struct {
	tables   map[string]Rules
	fallback Rules
}

// NewMapper returns a mapper over the builtin candidate tables.
func NewMapper() *Mapper {
	return NewMapperWith(BuiltinTables())
}

// NewMapperWith returns a mapper over the given tables. Tags absent from
// tables use DefaultRules.
func NewMapperWith(tables map[string]Rules) *Mapper {
	cp := make(map[string]Rules, len(tables))
	for tag, r := range tables {
		cp[tag] = r
	}
	return &Mapper{tables: cp, fallback: DefaultRules()}
}

// Rules returns the rules used for a region tag.
func (m *Mapper) Rules(tag string) Rules {
	if r, ok := m.tables[tag]; ok {
		return r
	}
	return m.fallback
}

// Stations maps station records. Records without an identity are dropped and
// repeated identities keep their first occurrence.
func (m *Mapper) Stations(tag string, records []hydro.RawRecord) []hydro.Station {
	rules := m.Rules(tag)
	out := make([]hydro.Station, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		id := rules.StationID.identifier(rec)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		st := hydro.Station{
			ID:        id,
			Label:     rules.Label.text(rec),
			River:     rules.River.text(rec),
			Catchment: rules.Catchment.text(rec),
			Region:    rules.Region.text(rec),
			Country:   rules.Country.text(rec),
			Town:      rules.Town.text(rec),
			Latitude:  coordinate(rules.Latitude, rec, 90),
			Longitude: coordinate(rules.Longitude, rec, 180),
			Raw:       rec,
		}
		if st.Label == "" {
			st.Label = id
		}
		out = append(out, st)
	}
	return out
}

// Measures maps measure records. Records without an identity are dropped.
func (m *Mapper) Measures(tag string, records []hydro.RawRecord) []hydro.Measure {
	rules := m.Rules(tag)
	out := make([]hydro.Measure, 0, len(records))

	for _, rec := range records {
		id := rules.MeasureID.identifier(rec)
		if id == "" {
			continue
		}
		out = append(out, hydro.Measure{
			ID:        id,
			StationID: rules.MeasureStation.identifier(rec),
			Parameter: rules.Parameter.text(rec),
			Period:    rules.Period.text(rec),
			Unit:      rules.Unit.text(rec),
			ValueType: rules.ValueType.text(rec),
		})
	}
	return out
}

// Readings maps reading records of one measure. Records with a non-numeric
// value or without a timestamp are dropped. The parameter comes from the
// record, then the measure, then the table default.
func (m *Mapper) Readings(tag string, records []hydro.RawRecord, measure hydro.Measure) []hydro.Reading {
	rules := m.Rules(tag)
	out := make([]hydro.Reading, 0, len(records))

	for _, rec := range records {
		value, ok := rules.Value.number(rec)
		if !ok {
			continue
		}
		ts := rules.Timestamp.text(rec)
		if ts == "" {
			continue
		}
		param := rules.ReadingParameter.text(rec)
		if param == "" {
			param = measure.Parameter
		}
		if param == "" {
			param = rules.DefaultParameter
		}
		out = append(out, hydro.Reading{
			MeasureID: measure.ID,
			Value:     value,
			Timestamp: ts,
			Parameter: param,
		})
	}
	return out
}

// coordinate returns nil for a missing or out-of-range coordinate.
func coordinate(c Candidates, rec hydro.RawRecord, limit float64) *float64 {
	v, ok := c.number(rec)
	if !ok || v < -limit || v > limit {
		return nil
	}
	return &v
}

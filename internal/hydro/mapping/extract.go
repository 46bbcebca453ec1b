package mapping

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/i474232898/hydro-aggregation/internal/common"
	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// nestedIDKeys identify a linked-data object embedded in a record.
var nestedIDKeys = []string{"@id", "id", "notation"}

// lookup returns the first present, non-empty value among the candidates.
func (c Candidates) lookup(rec hydro.RawRecord) (any, bool) {
	for _, key := range c {
		v, ok := rec.Get(key)
		if !ok || empty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// text returns the first candidate rendered as trimmed text.
func (c Candidates) text(rec hydro.RawRecord) string {
	v, ok := c.lookup(rec)
	if !ok {
		return ""
	}
	return toText(v)
}

// identifier is like text but reduces URIs and linked-data objects to
// their trailing identifier.
func (c Candidates) identifier(rec hydro.RawRecord) string {
	for _, key := range c {
		v, ok := rec.Get(key)
		if !ok || empty(v) {
			continue
		}
		if nested, ok := v.(hydro.RawRecord); ok {
			v, ok = Candidates(nestedIDKeys).lookup(nested)
			if !ok {
				continue
			}
		}
		if id := common.TrailingSegment(toText(v)); id != "" {
			return id
		}
	}
	return ""
}

// number returns the first candidate that parses as a finite number. A
// present but non-numeric value yields false; later candidates are not tried.
func (c Candidates) number(rec hydro.RawRecord) (float64, bool) {
	v, ok := c.lookup(rec)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case hydro.RawRecord:
		return t.Len() == 0
	}
	return false
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func toNumber(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

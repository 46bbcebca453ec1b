// Package decode turns provider payloads into ordered raw records without
// attaching any provider semantics to them.
package decode

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// wrapperKeys are the object keys whose array value is unwrapped, in order.
var wrapperKeys = []string{"items", "data"}

// Decoder implements hydro.Decoder.
type Decoder struct{}

// Decode implements hydro.Decoder.
func (Decoder) Decode(body []byte, format hydro.Format) ([]hydro.RawRecord, error) {
	return Decode(body, format)
}

// Decode parses body according to format.
func Decode(body []byte, format hydro.Format) ([]hydro.RawRecord, error) {
	switch format {
	case hydro.FormatJSON:
		return decodeJSON(body)
	case hydro.FormatCSV:
		return decodeCSV(body)
	default:
		return nil, &hydro.DecodeError{Format: format, Err: fmt.Errorf("unsupported format %q", format)}
	}
}

func decodeJSON(body []byte) ([]hydro.RawRecord, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	v, err := readValue(dec)
	if err != nil {
		return nil, &hydro.DecodeError{Format: hydro.FormatJSON, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &hydro.DecodeError{Format: hydro.FormatJSON, Err: errors.New("trailing data after top-level value")}
	}

	switch t := v.(type) {
	case hydro.RawRecord:
		for _, k := range wrapperKeys {
			if inner, ok := t.Get(k); ok {
				if arr, ok := inner.([]any); ok {
					return recordsOf(arr)
				}
			}
		}
		return []hydro.RawRecord{t}, nil
	case []any:
		return recordsOf(t)
	default:
		return nil, &hydro.DecodeError{Format: hydro.FormatJSON, Err: errors.New("top-level value is neither an object nor an array")}
	}
}

// recordsOf keeps the object elements of arr. Other elements are skipped
// and reported as a partial decode.
func recordsOf(arr []any) ([]hydro.RawRecord, error) {
	out := make([]hydro.RawRecord, 0, len(arr))
	var partial *hydro.DecodeError
	for i, el := range arr {
		rec, ok := el.(hydro.RawRecord)
		if !ok {
			partial = skipRow(partial, hydro.FormatJSON, i+1, fmt.Errorf("element is %T, not an object", el))
			continue
		}
		out = append(out, rec)
	}
	if partial != nil {
		return out, partial
	}
	return out, nil
}

// readValue reads one JSON value keeping object keys in payload order.
// Objects become hydro.RawRecord, arrays []any, numbers json.Number.
func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		rec := hydro.NewRawRecord(8)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T", kt)
			}
			val, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			rec.Set(key, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return rec, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

func decodeCSV(body []byte) ([]hydro.RawRecord, error) {
	body = bytes.TrimPrefix(body, utf8BOM)

	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, &hydro.DecodeError{Format: hydro.FormatCSV, Err: fmt.Errorf("read header: %w", err)}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var (
		out     []hydro.RawRecord
		partial *hydro.DecodeError
	)
	for row := 1; ; row++ {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				partial = skipRow(partial, hydro.FormatCSV, row, err)
				continue
			}
			return out, &hydro.DecodeError{Format: hydro.FormatCSV, Row: row, Err: err}
		}
		if len(fields) != len(header) {
			partial = skipRow(partial, hydro.FormatCSV, row,
				fmt.Errorf("row has %d fields, header has %d", len(fields), len(header)))
			continue
		}

		rec := hydro.NewRawRecord(len(header))
		for i, name := range header {
			rec.Set(name, fields[i])
		}
		out = append(out, rec)
	}

	if partial != nil {
		return out, partial
	}
	return out, nil
}

func skipRow(partial *hydro.DecodeError, format hydro.Format, row int, err error) *hydro.DecodeError {
	if partial == nil {
		return &hydro.DecodeError{Format: format, Row: row, Skipped: 1, Partial: true, Err: err}
	}
	partial.Skipped++
	return partial
}

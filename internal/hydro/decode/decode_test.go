package decode

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

func get(t *testing.T, rec hydro.RawRecord, key string) any {
	t.Helper()
	v, ok := rec.Get(key)
	require.True(t, ok, "missing key %q", key)
	return v
}

func TestDecodeCSVSingleRow(t *testing.T) {
	recs, err := Decode([]byte("station,name\nABC123,Test Site\n"), hydro.FormatCSV)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, []string{"station", "name"}, recs[0].Keys())
	assert.Equal(t, "ABC123", get(t, recs[0], "station"))
	assert.Equal(t, "Test Site", get(t, recs[0], "name"))
}

func TestDecodeCSVSkipsMismatchedRows(t *testing.T) {
	body := "\xEF\xBB\xBFID , Name\nA,One\nB,Two,extra\nC\nD,Four\n"
	recs, err := Decode([]byte(body), hydro.FormatCSV)

	require.Error(t, err)
	assert.True(t, hydro.IsPartialDecode(err))
	var de *hydro.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 2, de.Skipped)
	assert.Equal(t, 2, de.Row)

	require.Len(t, recs, 2)
	assert.Equal(t, "A", get(t, recs[0], "ID"))
	assert.Equal(t, "Four", get(t, recs[1], "Name"))
}

func TestDecodeCSVEmpty(t *testing.T) {
	recs, err := Decode(nil, hydro.FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = Decode([]byte("only,header\n"), hydro.FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDecodeJSONUnwrapsItems(t *testing.T) {
	recs, err := Decode([]byte(`{"meta":{"count":2},"items":[{"b":1,"a":"x"},{"a":"y"}]}`), hydro.FormatJSON)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []string{"b", "a"}, recs[0].Keys())
	assert.Equal(t, json.Number("1"), get(t, recs[0], "b"))
	assert.Equal(t, "y", get(t, recs[1], "a"))
}

func TestDecodeJSONUnwrapsData(t *testing.T) {
	recs, err := Decode([]byte(`{"data":[{"id":"S1"}]}`), hydro.FormatJSON)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", get(t, recs[0], "id"))
}

func TestDecodeJSONTopLevelArray(t *testing.T) {
	recs, err := Decode([]byte(`[{"id":"S1"},{"id":"S2"}]`), hydro.FormatJSON)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDecodeJSONSingleObject(t *testing.T) {
	recs, err := Decode([]byte(`{"id":"S1","items":"not a list"}`), hydro.FormatJSON)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", get(t, recs[0], "id"))
}

func TestDecodeJSONNestedValues(t *testing.T) {
	recs, err := Decode([]byte(`[{"station":{"@id":"http://x/stations/S1","label":"L"},"tags":[1,"a",null],"ok":true}]`), hydro.FormatJSON)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	nested, ok := get(t, recs[0], "station").(hydro.RawRecord)
	require.True(t, ok)
	assert.Equal(t, "http://x/stations/S1", get(t, nested, "@id"))
	assert.Equal(t, []any{json.Number("1"), "a", nil}, get(t, recs[0], "tags"))
	assert.Equal(t, true, get(t, recs[0], "ok"))
}

func TestDecodeJSONSkipsNonObjectElements(t *testing.T) {
	recs, err := Decode([]byte(`[{"id":"S1"}, 3, "x"]`), hydro.FormatJSON)
	assert.True(t, hydro.IsPartialDecode(err))
	assert.Len(t, recs, 1)
}

func TestDecodeJSONMalformed(t *testing.T) {
	for _, body := range []string{`{"items": [`, `{"a":1} {"b":2}`, `42`, `{"a":}`} {
		_, err := Decode([]byte(body), hydro.FormatJSON)
		require.Error(t, err, body)

		var de *hydro.DecodeError
		require.True(t, errors.As(err, &de), body)
		assert.False(t, de.Partial, body)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	recs, err := Decode([]byte("  \n"), hydro.FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	_, err := Decoder{}.Decode([]byte("<xml/>"), "xml")
	var de *hydro.DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestRawRecordMarshalKeepsOrder(t *testing.T) {
	recs, err := Decode([]byte(`[{"z":1,"a":{"y":"q","b":null}}]`), hydro.FormatJSON)
	require.NoError(t, err)

	out, err := json.Marshal(recs[0])
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":{"y":"q","b":null}}`, string(out))
}

package providers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

func TestDefaultRegistryDescribe(t *testing.T) {
	reg, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	desc, err := reg.Describe("canada")
	require.NoError(t, err)
	assert.Equal(t, hydro.FormatCSV, desc.Format)
	assert.Equal(t, TagCanada, desc.RegionTag)
	assert.Equal(t, DefaultTimeout, desc.Timeout)
	assert.False(t, desc.HasMeasures())

	uk, err := reg.Describe("united_kingdom")
	require.NoError(t, err)
	assert.True(t, uk.HasMeasures())
}

func TestDescribeUnknownProvider(t *testing.T) {
	reg, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	_, err = reg.Describe("atlantis")
	require.Error(t, err)
	assert.ErrorIs(t, err, hydro.ErrUnknownProvider)
}

func TestListIsSorted(t *testing.T) {
	reg, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, len(Builtin()))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry(5 * time.Second)

	cases := []struct {
		name string
		desc hydro.ProviderDescriptor
	}{
		{"missing id", hydro.ProviderDescriptor{Name: "x", Format: hydro.FormatJSON, RegionTag: "x",
			URLs: hydro.ResourceURLs{Stations: "s", Readings: "r"}}},
		{"bad id", hydro.ProviderDescriptor{ID: "Bad-Id", Name: "x", Format: hydro.FormatJSON, RegionTag: "x",
			URLs: hydro.ResourceURLs{Stations: "s", Readings: "r"}}},
		{"bad format", hydro.ProviderDescriptor{ID: "p", Name: "x", Format: "xml", RegionTag: "x",
			URLs: hydro.ResourceURLs{Stations: "s", Readings: "r"}}},
		{"missing readings url", hydro.ProviderDescriptor{ID: "p", Name: "x", Format: hydro.FormatJSON, RegionTag: "x",
			URLs: hydro.ResourceURLs{Stations: "s"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, reg.Register(tc.desc))
		})
	}

	good := hydro.ProviderDescriptor{ID: "p", Name: "x", Format: hydro.FormatJSON, RegionTag: "x",
		URLs: hydro.ResourceURLs{Stations: "s", Readings: "r"}}
	require.NoError(t, reg.Register(good))
	assert.ErrorIs(t, reg.Register(good), ErrDuplicateProvider)

	desc, err := reg.Describe("p")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, desc.Timeout)
}

func TestDescribeReturnsCopy(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, reg.Register(hydro.ProviderDescriptor{
		ID: "p", Name: "x", Format: hydro.FormatJSON, RegionTag: "x",
		URLs:            hydro.ResourceURLs{Stations: "s", Readings: "r"},
		FallbackRegions: []string{"North", "South"},
	}))

	desc, err := reg.Describe("p")
	require.NoError(t, err)
	desc.FallbackRegions[0] = "Modified"

	again, err := reg.Describe("p")
	require.NoError(t, err)
	assert.Equal(t, "North", again.FallbackRegions[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `providers:
  - id: ireland
    name: Ireland – EPA HydroNet
    format: csv
    timeout: 15s
    urls:
      stations: https://example.ie/stations.csv
      readings: https://example.ie/readings/{station}.csv
    fallback_regions: [Leinster, Munster, Connacht, Ulster]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	n, err := reg.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	desc, err := reg.Describe("ireland")
	require.NoError(t, err)
	assert.Equal(t, hydro.FormatCSV, desc.Format)
	assert.Equal(t, TagGeneric, desc.RegionTag)
	assert.Equal(t, 15*time.Second, desc.Timeout)
	assert.Equal(t, []string{"Leinster", "Munster", "Connacht", "Ulster"}, desc.FallbackRegions)
}

func TestLoadFileMissing(t *testing.T) {
	reg := NewRegistry(0)
	_, err := reg.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

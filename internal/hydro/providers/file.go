package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// fileSpec is the layout of a providers file:
//
//	providers:
//	  - id: ireland
//	    name: Ireland – EPA HydroNet
//	    format: csv
//	    region_tag: generic
//	    timeout: 15s
//	    urls:
//	      stations: https://example.ie/stations.csv
//	      readings: https://example.ie/readings/{station}.csv
//	    fallback_regions: [Leinster, Munster, Connacht, Ulster]
type fileSpec struct {
	Providers []hydro.ProviderDescriptor `yaml:"providers"`
}

// LoadFile registers every provider declared in a YAML file and returns how
// many were added.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read providers file: %w", err)
	}

	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return 0, fmt.Errorf("parse providers file: %w", err)
	}

	for i, desc := range spec.Providers {
		if desc.RegionTag == "" {
			desc.RegionTag = TagGeneric
		}
		if err := r.Register(desc); err != nil {
			return i, err
		}
	}
	return len(spec.Providers), nil
}

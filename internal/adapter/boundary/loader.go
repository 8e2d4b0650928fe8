// Package boundary loads the raw Township-Range boundary file that seeds the
// partition. The file is published once per survey revision by the land
// records team; the service reads it at startup rather than over Kafka.
package boundary

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
)

// File is the on-disk format: a CRS and, per region, the geometry parts as
// GeoJSON. Regions routinely carry several parts when a survey row was
// digitized in pieces.
type File struct {
	CRS     string                       `json:"crs"`
	Regions map[string][]json.RawMessage `json:"regions"`
}

// Load reads and decodes a boundary file into the shape the partition
// builder consumes.
func Load(ops *geometry.Ops, path string) (string, map[domain.RegionID][]*geos.Geom, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read boundary file: %w", err)
	}
	return decode(ops, data)
}

func decode(ops *geometry.Ops, data []byte) (string, map[domain.RegionID][]*geos.Geom, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parse boundary file: %w", err)
	}
	if f.CRS == "" {
		return "", nil, fmt.Errorf("boundary file missing crs")
	}
	if len(f.Regions) == 0 {
		return "", nil, fmt.Errorf("boundary file has no regions")
	}

	regions := make(map[domain.RegionID][]*geos.Geom, len(f.Regions))
	for id, raws := range f.Regions {
		parts := make([]*geos.Geom, 0, len(raws))
		for i, raw := range raws {
			g, err := ops.GeomFromGeoJSON(string(raw))
			if err != nil {
				return "", nil, fmt.Errorf("region %s part %d: %w", id, i, err)
			}
			parts = append(parts, g)
		}
		regions[domain.RegionID(id)] = parts
	}
	return f.CRS, regions, nil
}

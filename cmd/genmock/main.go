// Command genmock generates deterministic mock fixtures for local runs and
// test suites: a Township-Range boundary file plus raw layer envelopes in the
// shape the Kafka source topic carries. The boundary grid intentionally
// includes multi-part and degenerate regions so the partition builder's
// failure isolation stays exercised.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -rows 4 -cols 4
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
)

const (
	mockCRS  = "EPSG:3347"
	cellSize = 9656.0 // six survey miles in meters, roughly
	seed     = 20140426
)

var mockYears = []int{2014, 2015, 2016, 2017, 2018, 2019, 2020, 2021}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "output directory for fixtures")
	rows := flag.Int("rows", 4, "township rows in the mock grid")
	cols := flag.Int("cols", 4, "range columns in the mock grid")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *rows < 1 || *cols < 1 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", *rows, *cols)
	}

	rng := rand.New(rand.NewSource(seed))

	boundary := buildBoundary(*rows, *cols, rng)
	wells := buildWellLayer(*rows, *cols, rng)
	crops := buildCropLayer(*rows, *cols, rng)

	files := map[string]any{
		"boundaries.json":  boundary,
		"layer_wells.json": wells,
		"layer_crops.json": crops,
	}
	for name, v := range files {
		path := filepath.Join(*outDir, name)
		if err := writeJSON(path, v); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Printf("wrote %s", path)
	}

	printStats(boundary, wells, crops)
	return nil
}

// boundaryFile mirrors the on-disk format internal/adapter/boundary reads.
type boundaryFile struct {
	CRS     string                       `json:"crs"`
	Regions map[string][]json.RawMessage `json:"regions"`
}

type layerFile struct {
	Dataset        string        `json:"dataset"`
	Kind           string        `json:"kind"`
	CRS            string        `json:"crs"`
	ValueAttr      string        `json:"value_attribute,omitempty"`
	CategoryAttr   string        `json:"category_attribute,omitempty"`
	Prefix         string        `json:"prefix,omitempty"`
	Aggregation    string        `json:"aggregation"`
	ReplicateYears []int         `json:"replicate_years,omitempty"`
	Features       []layerFeature `json:"features"`
}

type layerFeature struct {
	Geometry   json.RawMessage    `json:"geometry"`
	Year       int                `json:"year"`
	Values     map[string]float64 `json:"values,omitempty"`
	Categories map[string]string  `json:"categories,omitempty"`
}

func regionID(row, col int) string {
	return fmt.Sprintf("T%02dS R%02dE", row+1, col+1)
}

func cellOrigin(row, col int) (float64, float64) {
	return float64(col) * cellSize, float64(row) * cellSize
}

func polygonJSON(minX, minY, maxX, maxY float64) json.RawMessage {
	s := fmt.Sprintf(
		`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY)
	return json.RawMessage(s)
}

func pointJSON(x, y float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"type":"Point","coordinates":[%g,%g]}`, x, y))
}

// buildBoundary lays out a rows x cols survey grid. Every third region is
// split into two half polygons, and the last region is emitted with no parts
// so the builder's degenerate path has a fixture.
func buildBoundary(rows, cols int, rng *rand.Rand) boundaryFile {
	regions := make(map[string][]json.RawMessage, rows*cols)
	n := 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			id := regionID(r, c)
			x, y := cellOrigin(r, c)

			if r == rows-1 && c == cols-1 {
				regions[id] = []json.RawMessage{}
				continue
			}

			// Jitter the corners inward a little; squaring restores the box.
			inset := rng.Float64() * cellSize * 0.02
			minX, minY := x+inset, y+inset
			maxX, maxY := x+cellSize-inset, y+cellSize-inset

			if n%3 == 0 {
				midX := (minX + maxX) / 2
				regions[id] = []json.RawMessage{
					polygonJSON(minX, minY, midX, maxY),
					polygonJSON(midX, minY, maxX, maxY),
				}
			} else {
				regions[id] = []json.RawMessage{polygonJSON(minX, minY, maxX, maxY)}
			}
			n++
		}
	}
	return boundaryFile{CRS: mockCRS, Regions: regions}
}

// buildWellLayer scatters measurement stations with a depth value per year.
func buildWellLayer(rows, cols int, rng *rand.Rand) layerFile {
	var features []layerFeature
	for _, year := range mockYears {
		stations := 3 + rng.Intn(4)
		for s := 0; s < stations; s++ {
			x := rng.Float64() * float64(cols) * cellSize
			y := rng.Float64() * float64(rows) * cellSize
			features = append(features, layerFeature{
				Geometry: pointJSON(x, y),
				Year:     year,
				Values:   map[string]float64{"DEPTH": 40 + rng.Float64()*160},
			})
		}
	}
	return layerFile{
		Dataset:     "wells",
		Kind:        "point",
		CRS:         mockCRS,
		ValueAttr:   "DEPTH",
		Prefix:      "WELLS",
		Aggregation: "area-weighted-mean",
		Features:    features,
	}
}

// buildCropLayer covers the grid with categorized polygons for one survey
// year, replicated across the rest of the range the way static land-use
// layers are.
func buildCropLayer(rows, cols int, rng *rand.Rand) layerFile {
	categories := []string{"GRAIN", "ORCHARD", "PASTURE", "FALLOW"}
	var features []layerFeature
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, y := cellOrigin(r, c)
			// Two vertical strips per cell with independent crop types.
			midX := x + cellSize*(0.3+rng.Float64()*0.4)
			for i, span := range [][2]float64{{x, midX}, {midX, x + cellSize}} {
				features = append(features, layerFeature{
					Geometry: polygonJSON(span[0], y, span[1], y+cellSize),
					Year:     mockYears[0],
					Categories: map[string]string{
						"CROP_TYPE": categories[(r+c+i)%len(categories)],
					},
				})
			}
		}
	}
	return layerFile{
		Dataset:        "crops",
		Kind:           "polygon",
		CRS:            mockCRS,
		CategoryAttr:   "CROP_TYPE",
		Prefix:         "CROPS",
		Aggregation:    "area-weighted-mean",
		ReplicateYears: mockYears,
		Features:       features,
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(b boundaryFile, wells, crops layerFile) {
	multiPart, empty := 0, 0
	for _, parts := range b.Regions {
		switch {
		case len(parts) == 0:
			empty++
		case len(parts) > 1:
			multiPart++
		}
	}

	wellsPerYear := map[int]int{}
	for _, f := range wells.Features {
		wellsPerYear[f.Year]++
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Regions: %d (multi-part=%d, degenerate=%d)\n", len(b.Regions), multiPart, empty)
	fmt.Printf("Well stations: %d total\n", len(wells.Features))
	for _, y := range mockYears {
		fmt.Printf("  %d: %d stations\n", y, wellsPerYear[y])
	}
	fmt.Printf("Crop polygons: %d, replicated to %d years\n", len(crops.Features), len(crops.ReplicateYears))
}

// Command validate performs end-to-end integrity checks on a processed
// run: the boundary file the partition was built from and the region-year
// rows the pipeline produced. It verifies partition health, grid
// completeness, feature value sanity, and area-share conservation.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -boundary data/mock/boundaries.json \
//	  -rows data/mock/output_rows.json \
//	  -year-start 2014 -year-end 2021 \
//	  -share-prefixes CROPS
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/couchcryptid/township-etl/internal/adapter/boundary"
	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
	"github.com/couchcryptid/township-etl/internal/partition"
)

// shareTolerance bounds how far a region-year's category shares may exceed 1
// before it counts as a conservation failure. Snapped overlays overshoot by
// a hair along shared edges.
const shareTolerance = 0.005

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	boundaryPath := flag.String("boundary", "", "path to the boundary file")
	rowsPath := flag.String("rows", "", "path to the produced region-year rows JSON")
	yearStart := flag.Int("year-start", 2014, "first year the output grid must cover")
	yearEnd := flag.Int("year-end", 2021, "last year the output grid must cover")
	sharePrefixes := flag.String("share-prefixes", "", "comma-separated column prefixes holding area shares")
	flag.Parse()

	if *boundaryPath == "" || *rowsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*boundaryPath, *rowsPath, *yearStart, *yearEnd, splitPrefixes(*sharePrefixes)); code != 0 {
		os.Exit(code)
	}
}

func run(boundaryPath, rowsPath string, yearStart, yearEnd int, sharePrefixes []string) int {
	fmt.Println("=== Township Feature Integrity Validation ===")
	fmt.Println()

	ops := geometry.NewOps()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	crs, raw, err := boundary.Load(ops, boundaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load boundary file: %v\n", err)
		return 1
	}

	result := partition.NewBuilder(ops, logger).Build(crs, raw)

	rows, err := loadRows(rowsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load output rows: %v\n", err)
		return 1
	}

	years := make([]int, 0, yearEnd-yearStart+1)
	for y := yearStart; y <= yearEnd; y++ {
		years = append(years, y)
	}

	phases := []*phase{
		validatePartition(result),
		validateGrid(rows, result.Partition, years),
		validateValues(rows),
		validateShares(rows, sharePrefixes),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Regions: %d usable, %d degenerate, %d failed; rows: %d\n",
		result.Partition.Len(), len(result.Degenerate), len(result.Failed), len(rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadRows(path string) ([]domain.RegionYearRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []domain.RegionYearRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func splitPrefixes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ── Phase 1: Partition health ──
// Every usable region must have squared to a rectangle with positive area,
// and region areas across the partition should be near-uniform for a survey
// grid (the largest no more than 4x the smallest).

func validatePartition(result *partition.Result) *phase {
	p := &phase{name: "Phase 1: Partition health"}

	if result.Partition.Len() == 0 {
		p.errorf("no usable regions built")
		return p
	}
	for _, err := range result.Failed {
		p.errorf("region build failure: %v", err)
	}

	minArea, maxArea := math.Inf(1), 0.0
	for _, id := range result.Partition.IDs() {
		region, ok := result.Partition.Region(id)
		if !ok {
			continue
		}
		if region.Area <= 0 {
			p.errorf("region %s has non-positive area %g", id, region.Area)
			continue
		}
		minArea = math.Min(minArea, region.Area)
		maxArea = math.Max(maxArea, region.Area)
	}
	if minArea > 0 && maxArea/minArea > 4 {
		p.errorf("region area spread %gx exceeds 4x (min=%g, max=%g)", maxArea/minArea, minArea, maxArea)
	}
	return p
}

// ── Phase 2: Grid completeness ──
// The output must hold exactly one row per usable region per requested year,
// reference no unknown regions, and carry an identical column set on every
// row.

func validateGrid(rows []domain.RegionYearRecord, part *domain.Partition, years []int) *phase {
	p := &phase{name: "Phase 2: Grid completeness"}

	type cell struct {
		region domain.RegionID
		year   int
	}
	seen := map[cell]int{}
	for i := range rows {
		r := &rows[i]
		if _, ok := part.Region(r.RegionID); !ok {
			p.errorf("row %d: unknown region %q", i, r.RegionID)
			continue
		}
		seen[cell{r.RegionID, r.Year}]++
	}

	for _, id := range part.IDs() {
		for _, year := range years {
			switch n := seen[cell{id, year}]; {
			case n == 0:
				p.errorf("missing row for region %s year %d", id, year)
			case n > 1:
				p.errorf("region %s year %d appears %d times", id, year, n)
			}
		}
	}

	if len(rows) > 0 {
		reference := columnSet(&rows[0])
		for i := 1; i < len(rows); i++ {
			if got := columnSet(&rows[i]); got != reference {
				p.errorf("row %d: column set %q differs from row 0 %q", i, got, reference)
				break
			}
		}
	}
	return p
}

func columnSet(r *domain.RegionYearRecord) string {
	cols := make([]string, 0, len(r.Features))
	for c := range r.Features {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return strings.Join(cols, ",")
}

// ── Phase 3: Value sanity ──
// Column names follow the PREFIX_UPPER_SNAKE convention and values are
// finite. Nil means no data and is always acceptable.

func validateValues(rows []domain.RegionYearRecord) *phase {
	p := &phase{name: "Phase 3: Value sanity"}

	for i := range rows {
		r := &rows[i]
		if r.ProcessedAt.IsZero() {
			p.errorf("row %d (%s/%d): processed_at is zero", i, r.RegionID, r.Year)
		}
		for col, v := range r.Features {
			if col == "" {
				p.errorf("row %d (%s/%d): empty column name", i, r.RegionID, r.Year)
				continue
			}
			if col != strings.ToUpper(col) || strings.ContainsAny(col, " -") {
				p.errorf("row %d: column %q is not UPPER_SNAKE", i, col)
			}
			if v == nil {
				continue
			}
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				p.errorf("row %d (%s/%d): column %s is %g", i, r.RegionID, r.Year, col, *v)
			}
		}
	}
	return p
}

// ── Phase 4: Share conservation ──
// For category layers, the shares under one prefix partition the region's
// area: each column sits in [0, 1] and the per-row sum never exceeds 1 by
// more than the snap tolerance. Sums below 1 are fine; they mean part of the
// region was not covered by the source layer.

func validateShares(rows []domain.RegionYearRecord, prefixes []string) *phase {
	p := &phase{name: "Phase 4: Share conservation"}

	for _, prefix := range prefixes {
		want := prefix + "_"
		for i := range rows {
			r := &rows[i]
			sum := 0.0
			for col, v := range r.Features {
				if !strings.HasPrefix(col, want) || v == nil {
					continue
				}
				if *v < 0 || *v > 1+shareTolerance {
					p.errorf("row %d (%s/%d): share %s=%g outside [0, 1]", i, r.RegionID, r.Year, col, *v)
				}
				sum += *v
			}
			if sum > 1+shareTolerance {
				p.errorf("row %d (%s/%d): %s shares sum to %g", i, r.RegionID, r.Year, prefix, sum)
			}
		}
	}
	return p
}

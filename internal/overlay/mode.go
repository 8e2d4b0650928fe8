package overlay

import (
	"fmt"

	"github.com/couchcryptid/township-etl/internal/domain"
)

// Mode selects how scalar fragments combine within a (region, year) group.
// The mode is a required parameter of every scalar aggregation, never
// inferred from the data.
type Mode int

const (
	// ModeAreaWeightedMean averages fragment values weighted by their
	// region-clipped area fraction. Use for continuous fields such as
	// interpolated precipitation, where a fragment covering more of the
	// region should contribute more.
	ModeAreaWeightedMean Mode = iota
	// ModeMean averages fragment values with equal weight per fragment.
	ModeMean
	// ModeSum adds fragment values.
	ModeSum
	// ModeCount counts fragments, ignoring values. Use for discrete counts
	// such as wells drilled per region.
	ModeCount
)

// ParseMode validates a configured aggregation mode. An unknown mode is a
// configuration error and fatal for the whole run.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "area-weighted-mean":
		return ModeAreaWeightedMean, nil
	case "mean":
		return ModeMean, nil
	case "sum":
		return ModeSum, nil
	case "count":
		return ModeCount, nil
	default:
		return 0, fmt.Errorf("unknown aggregation mode %q (want area-weighted-mean, mean, sum, or count)", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeAreaWeightedMean:
		return "area-weighted-mean"
	case ModeMean:
		return "mean"
	case ModeSum:
		return "sum"
	case ModeCount:
		return "count"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// emptyValue is the result for a (region, year) group with no fragments:
// zero for count-type aggregations, explicit no-data for means.
func (m Mode) emptyValue() domain.FeatureValue {
	switch m {
	case ModeSum, ModeCount:
		return domain.Float(0)
	default:
		return domain.NoData
	}
}

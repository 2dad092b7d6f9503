package segment

import (
	"fmt"
	"math"
)

// Aggregator is the function a measure is aggregated with.
type Aggregator uint8

const (
	// Sum adds values.
	Sum Aggregator = iota
	// Count counts rows; partial counts add up.
	Count
	// Min keeps the smallest value.
	Min
	// Max keeps the largest value.
	Max
	// DistinctCount counts distinct values and cannot be rolled up.
	DistinctCount
)

var aggregatorNames = [...]string{
	Sum:           "sum",
	Count:         "count",
	Min:           "min",
	Max:           "max",
	DistinctCount: "distinct-count",
}

// String returns the stable name of the aggregator.
func (a Aggregator) String() string {
	if int(a) < len(aggregatorNames) {
		return aggregatorNames[a]
	}
	return fmt.Sprintf("Aggregator(%d)", uint8(a))
}

// ParseAggregator returns the aggregator with the given name.
func ParseAggregator(name string) (Aggregator, error) {
	for i, n := range aggregatorNames {
		if n == name {
			return Aggregator(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
}

// CanRollup reports whether partial aggregates can be combined into coarser ones.
func (a Aggregator) CanRollup() bool {
	return a != DistinctCount
}

// Combine merges two partial aggregates.
func (a Aggregator) Combine(x, y float64) float64 {
	switch a {
	case Min:
		return math.Min(x, y)
	case Max:
		return math.Max(x, y)
	default:
		return x + y
	}
}

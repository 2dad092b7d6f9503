package segment

import (
	"slices"
	"strings"
)

// Region selects the segments removed by a flush.
//
// Empty Schema or Cube match every schema or cube. An empty Measures list
// matches every measure. Constraints narrow the region to segments that
// may hold cells with the given column values.
type Region struct {
	Schema      string
	Cube        string
	Measures    []string
	Constraints []ColumnConstraint
}

// Overlaps reports whether the segment described by h may hold a cell of r.
//
// The test is conservative: a header that does not mention a region column
// aggregates over all of its values and therefore overlaps.
func (h *Header) Overlaps(reg *Registry, r Region) bool {
	if r.Schema != "" && r.Schema != h.schema {
		return false
	}
	if r.Cube != "" && r.Cube != h.cube {
		return false
	}
	if len(r.Measures) > 0 && !slices.Contains(r.Measures, h.measure) {
		return false
	}
	if len(r.Constraints) == 0 {
		return true
	}

	cols := make([]string, len(r.Constraints))
	for i, c := range r.Constraints {
		cols[i] = c.Column
	}
	if !h.fingerprint.Intersects(reg.lookupFingerprint(cols...)) {
		return true
	}

	for _, rc := range r.Constraints {
		hc, ok := h.Constraint(rc.Column)
		if !ok {
			continue
		}
		if !hc.Intersects(rc.canonical()) {
			return false
		}
	}
	return true
}

func (r Region) String() string {
	parts := []string{"schema=" + orStar(r.Schema), "cube=" + orStar(r.Cube)}
	if len(r.Measures) > 0 {
		parts = append(parts, "measures=["+strings.Join(r.Measures, ",")+"]")
	}
	for _, c := range r.Constraints {
		parts = append(parts, c.canonical().String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
